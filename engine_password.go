package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/neurocheck/authgate/internal"
	"github.com/neurocheck/authgate/internal/flows"
	"github.com/neurocheck/authgate/internal/rate"
	"github.com/neurocheck/authgate/internal/stores"
	"github.com/neurocheck/authgate/password"
	"go.uber.org/zap"
)

// ChangePassword replaces the password of a signed-in account. The current
// password must verify and the new one must differ from it. A successful
// change also clears the lockout counter.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !e.credentials.verify(account, currentPassword) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, account.ID, account.Email, "invalid_password", nil)
		return ErrInvalidPassword
	}
	if err := e.credentials.checkPolicy(newPassword); err != nil {
		return err
	}
	if reused, _ := e.hasher.Verify(newPassword, account.PasswordHash); reused {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeReuse, false, account.ID, account.Email, "password_reuse", nil)
		return ErrPasswordReuse
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := e.lockout.recordSuccess(ctx, account); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, account.ID, account.Email, "", nil)
	return nil
}

// RequestPasswordReset sends a reset token to email through the configured
// ResetNotifier. It returns nil for unknown and throttled addresses alike.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrInvalidInput
	}
	return flows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ConfirmPasswordReset sets a new password with a token from
// RequestPasswordReset. Any token problem is reported as
// ErrPasswordResetInvalid.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if token == "" || len(token) > 128 {
		return ErrPasswordResetInvalid
	}
	return flows.RunConfirmPasswordReset(ctx, token, newPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() flows.PasswordResetDeps {
	cfg := e.config.PasswordReset

	return flows.PasswordResetDeps{
		Enabled:      cfg.Enabled,
		TTL:          cfg.TTL,
		MaxAttempts:  cfg.MaxAttempts,
		ClearLockout: cfg.ClearLockoutOnReset,
		Now:          e.clock,

		AllowRequest: func(ctx context.Context, email string) (bool, error) {
			err := e.resetLimiter.Allow(ctx, email)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, rate.ErrRateLimited):
				return false, nil
			default:
				return false, unavailable(err)
			}
		},
		LookupAccount: func(ctx context.Context, email string) (string, bool, error) {
			account, err := e.credentials.lookup(ctx, email)
			if err != nil || account == nil {
				return "", false, err
			}
			return account.ID, true, nil
		},

		NewResetID:  internal.NewOpaqueString,
		NewSecret:   internal.NewResetSecret,
		HashSecret:  internal.HashResetSecret,
		EncodeToken: internal.EncodeResetToken,
		DecodeToken: internal.DecodeResetToken,

		SaveReset: func(ctx context.Context, resetID string, record flows.PasswordResetRecord, ttl time.Duration) error {
			err := e.resetStore.Save(ctx, resetID, &stores.PasswordResetRecord{
				AccountID:  record.AccountID,
				SecretHash: record.SecretHash,
				ExpiresAt:  record.ExpiresAt,
			}, ttl)
			if err != nil {
				return unavailable(err)
			}
			return nil
		},
		ConsumeReset: func(ctx context.Context, resetID string, hash [32]byte, maxAttempts int) (string, error) {
			record, err := e.resetStore.Consume(ctx, resetID, hash, maxAttempts)
			if err != nil {
				if errors.Is(err, stores.ErrResetRedisUnavailable) {
					return "", unavailable(err)
				}
				return "", err
			}
			return record.AccountID, nil
		},
		IsResetRejected: func(err error) bool {
			return errors.Is(err, stores.ErrResetNotFound) ||
				errors.Is(err, stores.ErrResetSecretMismatch) ||
				errors.Is(err, stores.ErrResetAttemptsExceeded)
		},

		Notify: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			err := e.notifier.SendPasswordReset(ctx, email, token, expiresAt)
			if err != nil {
				e.logger.Error("password reset notification failed", zap.Error(err))
			}
			return err
		},

		CheckPolicy:        e.credentials.checkPolicy,
		HashPassword:       e.hashPassword,
		UpdatePasswordHash: e.store.UpdatePasswordHash,
		ResetLockout:       e.store.ResetFailedLogins,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			PasswordResetRateLimited:    int(MetricPasswordResetRateLimited),
		},
		Events: flows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:        ErrEngineNotReady,
			PasswordResetDisabled: ErrPasswordResetDisabled,
			PasswordResetInvalid:  ErrPasswordResetInvalid,
			PasswordPolicy:        ErrPasswordPolicy,
		},
	}
}

// hashPassword maps the hasher's input errors onto ErrPasswordPolicy.
func (e *Engine) hashPassword(plain string) (string, error) {
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrEmptyPassword) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", ErrPasswordPolicy
		}
		return "", err
	}
	return hash, nil
}
