package flows

import (
	"context"
	"errors"
	"time"
)

type PasswordResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
}

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	PasswordResetRateLimited    int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetErrors struct {
	EngineNotReady        error
	PasswordResetDisabled error
	PasswordResetInvalid  error
	PasswordPolicy        error
}

type PasswordResetDeps struct {
	Enabled      bool
	TTL          time.Duration
	MaxAttempts  int
	ClearLockout bool

	Now func() time.Time

	AllowRequest  func(context.Context, string) (bool, error)
	LookupAccount func(context.Context, string) (string, bool, error)

	NewResetID  func() (string, error)
	NewSecret   func() ([32]byte, error)
	HashSecret  func([32]byte) [32]byte
	EncodeToken func(string, [32]byte) (string, error)
	DecodeToken func(string) (string, [32]byte, error)

	SaveReset    func(context.Context, string, PasswordResetRecord, time.Duration) error
	ConsumeReset func(context.Context, string, [32]byte, int) (string, error)
	// IsResetRejected reports ConsumeReset errors that mean the token is
	// wrong, used up or expired, as opposed to a backend failure.
	IsResetRejected func(error) bool

	Notify func(context.Context, string, string, time.Time) error

	CheckPolicy        func(string) error
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(context.Context, string, string) error
	ResetLockout       func(context.Context, string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, accountID, email, reason string, metadata func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset mails a reset link when email belongs to an
// account. The result is identical for unknown and throttled emails so
// callers cannot tell which addresses exist.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if !deps.Enabled {
		return deps.Errors.PasswordResetDisabled
	}
	if deps.AllowRequest == nil || deps.LookupAccount == nil || deps.NewResetID == nil ||
		deps.NewSecret == nil || deps.EncodeToken == nil || deps.SaveReset == nil || deps.Notify == nil {
		return deps.Errors.EngineNotReady
	}

	allowed, err := deps.AllowRequest(ctx, email)
	if err != nil {
		return err
	}
	if !allowed {
		deps.MetricInc(deps.Metrics.PasswordResetRateLimited)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", email, "rate_limited", nil)
		return nil
	}

	accountID, found, err := deps.LookupAccount(ctx, email)
	if err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	if !found {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, "", email, "", func() map[string]string {
			return map[string]string{"enumeration_safe": "true"}
		})
		return nil
	}

	resetID, err := deps.NewResetID()
	if err != nil {
		return err
	}
	secret, err := deps.NewSecret()
	if err != nil {
		return err
	}
	token, err := deps.EncodeToken(resetID, secret)
	if err != nil {
		return err
	}

	expiresAt := deps.Now().Add(deps.TTL)
	record := PasswordResetRecord{
		AccountID:  accountID,
		SecretHash: deps.HashSecret(secret),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := deps.SaveReset(ctx, resetID, record, deps.TTL); err != nil {
		return err
	}

	if err := deps.Notify(ctx, email, token, expiresAt); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, accountID, email, "notify_failed", nil)
		return nil
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, accountID, email, "", nil)
	return nil
}

// RunConfirmPasswordReset sets a new password using a token from
// RunRequestPasswordReset. The password policy is checked before the
// token is spent.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if !deps.Enabled {
		return deps.Errors.PasswordResetDisabled
	}
	if deps.DecodeToken == nil || deps.ConsumeReset == nil || deps.CheckPolicy == nil ||
		deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return deps.Errors.EngineNotReady
	}

	reject := func(reason string, err error) error {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", "", reason, nil)
		return err
	}

	resetID, secret, err := deps.DecodeToken(token)
	if err != nil {
		return reject("malformed_token", deps.Errors.PasswordResetInvalid)
	}
	if err := deps.CheckPolicy(newPassword); err != nil {
		return reject("password_policy", err)
	}

	accountID, err := deps.ConsumeReset(ctx, resetID, deps.HashSecret(secret), deps.MaxAttempts)
	if err != nil {
		if deps.IsResetRejected(err) {
			return reject("token_rejected", deps.Errors.PasswordResetInvalid)
		}
		return err
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		if errors.Is(err, deps.Errors.PasswordPolicy) {
			return reject("password_policy", err)
		}
		return err
	}
	if err := deps.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return err
	}
	if deps.ClearLockout && deps.ResetLockout != nil {
		if err := deps.ResetLockout(ctx, accountID); err != nil {
			return err
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, accountID, "", "", nil)
	return nil
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, string, func() map[string]string) {}
	}
	if deps.IsResetRejected == nil {
		deps.IsResetRejected = func(error) bool { return false }
	}
	if deps.HashSecret == nil {
		deps.HashSecret = func(s [32]byte) [32]byte { return s }
	}
}
