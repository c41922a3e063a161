package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateAccount registers a new account. Dashboard administrators create
// accounts; there is no self sign-up. An empty role defaults to staff.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountProfile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, ErrInvalidInput
	}
	role := req.Role
	if role == "" {
		role = RoleStaff
	}
	if !role.Valid() {
		return nil, ErrAccountRoleInvalid
	}
	if err := e.credentials.checkPolicy(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	account := &Account{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		TwoFactorState: TwoFactorDisabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", email, "duplicate", nil)
		}
		return nil, err
	}

	// Failures recorded while the address had no account must not follow
	// it into the new one.
	if err := e.lockout.resetShadow(ctx, email); err != nil {
		e.logger.Warn("shadow lockout not cleared", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreated, true, account.ID, email, "", func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	profile := account.Profile()
	return &profile, nil
}

// GetProfile returns the public view of an account.
func (e *Engine) GetProfile(ctx context.Context, accountID string) (*AccountProfile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	profile := account.Profile()
	return &profile, nil
}

// LockoutStatus reports the failure counter and, when locked, how long the
// lock has left.
func (e *Engine) LockoutStatus(ctx context.Context, accountID string) (int, time.Duration, error) {
	if !e.ready() {
		return 0, 0, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	var lockout *LockoutError
	if err := e.lockout.checkLockout(account, e.clock()); errors.As(err, &lockout) {
		return account.FailedLogins, lockout.RetryAfter, nil
	}
	return account.FailedLogins, 0, nil
}

// UnlockAccount clears the failure counter and any active lock, for
// administrators acting on a support request.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := e.lockout.recordSuccess(ctx, account); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, true, account.ID, account.Email, "", nil)
	return nil
}
