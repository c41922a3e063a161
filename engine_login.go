package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/neurocheck/authgate/internal"
	"github.com/neurocheck/authgate/internal/flows"
	"github.com/neurocheck/authgate/internal/stores"
	"github.com/neurocheck/authgate/password"
	"go.uber.org/zap"
)

// Login evaluates one submission of the login form.
//
// A nil error means the attempt advanced: see LoginStep.Kind. A rejected
// attempt returns *LoginError; use errors.Is with the Err* sentinels or
// errors.As to read RetryAfter, AttemptsLeft and Challenge. Malformed input
// returns ErrInvalidInput without touching any state, and backend failures
// return an error wrapping ErrUnavailable.
func (e *Engine) Login(ctx context.Context, attempt LoginAttempt) (*LoginStep, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	in, err := e.loginInput(attempt)
	if err != nil {
		return nil, err
	}

	var account *Account
	outcome, err := flows.RunLogin(ctx, in, e.loginDeps(&account))
	if err != nil {
		var rejection *flows.Rejection
		if errors.As(err, &rejection) {
			return nil, loginErrorFromFlow(rejection)
		}
		return nil, err
	}
	return e.loginStepFromFlow(outcome, account), nil
}

func (e *Engine) loginInput(attempt LoginAttempt) (flows.LoginInput, error) {
	email := normalizeEmail(attempt.Email)
	if !validEmail(email) || attempt.Password == "" || len(attempt.Password) > password.DefaultMaxPasswordBytes {
		return flows.LoginInput{}, ErrInvalidInput
	}
	if attempt.CaptchaSessionID != "" && len(attempt.CaptchaSessionID) > 64 {
		return flows.LoginInput{}, ErrInvalidInput
	}
	if len(attempt.TwoFactorCode) > 16 || len(attempt.BackupCode) > 64 || len(attempt.TwoFactorTicket) > 64 {
		return flows.LoginInput{}, ErrInvalidInput
	}

	return flows.LoginInput{
		Email:            email,
		Password:         attempt.Password,
		CaptchaSessionID: attempt.CaptchaSessionID,
		CaptchaAnswer:    attempt.CaptchaAnswer,
		TwoFactorCode:    attempt.TwoFactorCode,
		BackupCode:       attempt.BackupCode,
		Ticket:           attempt.TwoFactorTicket,
		IsUnlock:         attempt.IsUnlock,
	}, nil
}

// VerifyCredentials checks email and password without any lockout, captcha
// or second-factor bookkeeping. It is the building block for
// re-authentication prompts.
func (e *Engine) VerifyCredentials(ctx context.Context, email, plain string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if !validEmail(email) || plain == "" {
		return nil, ErrInvalidInput
	}

	account, err := e.credentials.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if !e.credentials.verify(account, plain) {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// CheckLockout returns *LockoutError when the account is locked now.
func (e *Engine) CheckLockout(account *Account) error {
	if account == nil {
		return ErrInvalidInput
	}
	return e.lockout.checkLockout(account, e.clock())
}

// RequiresCaptcha reports whether the next login for account must solve a
// challenge first.
func (e *Engine) RequiresCaptcha(account *Account) bool {
	return account != nil && e.lockout.requiresCaptcha(account)
}

// loginDeps binds the flow to this engine. The lookup stores the full
// account in *slot so later steps can reach the TOTP secret and counter
// without another read.
func (e *Engine) loginDeps(slot **Account) flows.LoginDeps {
	var full *Account

	return flows.LoginDeps{
		SoftThreshold: e.config.Lockout.SoftThreshold,
		LowWatermark:  e.config.TwoFactor.BackupCodeLowWatermark,
		Now:           e.clock,

		LookupAccount: func(ctx context.Context, email string) (*flows.LoginAccount, error) {
			account, err := e.credentials.lookup(ctx, email)
			if err != nil {
				return nil, err
			}
			if account == nil {
				return nil, nil
			}
			full = account
			*slot = account
			return loginAccountView(account), nil
		},
		ShadowState: func(ctx context.Context, email string) (int, time.Duration, error) {
			state, err := e.lockout.shadowState(ctx, email)
			return state.Failures, state.RetryAfter, err
		},
		RecordShadowFailure: func(ctx context.Context, email string) error {
			state, err := e.lockout.recordShadowFailure(ctx, email)
			if err == nil && state.Locked() {
				e.logger.Debug("shadow lockout engaged", zap.Int("failures", state.Failures))
			}
			return err
		},
		RecordFailure: func(ctx context.Context, view *flows.LoginAccount) (bool, error) {
			lockedNow, err := e.lockout.recordFailure(ctx, full, e.clock())
			if err != nil {
				return false, err
			}
			view.FailedLogins = full.FailedLogins
			view.LockedUntil = full.LockedUntil
			if lockedNow {
				e.logger.Warn("account locked",
					zap.String("account_id", full.ID),
					zap.Int("failures", full.FailedLogins),
					zap.Time("locked_until", full.LockedUntil),
				)
			}
			return lockedNow, nil
		},
		RecordSuccess: func(ctx context.Context, view *flows.LoginAccount) error {
			if err := e.lockout.recordSuccess(ctx, full); err != nil {
				return err
			}
			view.FailedLogins = 0
			view.LockedUntil = time.Time{}
			return nil
		},

		VerifyPassword: func(_ context.Context, view *flows.LoginAccount, plain string) bool {
			if view == nil {
				return e.credentials.verify(nil, plain)
			}
			return e.credentials.verify(full, plain)
		},
		UpgradePassword: func(ctx context.Context, _ *flows.LoginAccount, plain string) {
			e.credentials.upgrade(ctx, full, plain)
		},

		IssueCaptcha: func(ctx context.Context, email string) (*flows.Challenge, error) {
			challenge, err := e.captcha.issue(ctx, email)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricCaptchaIssued)
			return flowChallenge(challenge), nil
		},
		VerifyCaptcha: func(ctx context.Context, email, sessionID, answer string) (flows.CaptchaCheck, error) {
			err := e.captcha.verify(ctx, sessionID, email, answer)
			if err == nil {
				return flows.CaptchaCheck{OK: true}, nil
			}
			if errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrChallengeExpired) {
				return flows.CaptchaCheck{Missing: true}, nil
			}
			var wrong *CaptchaError
			if errors.As(err, &wrong) {
				return flows.CaptchaCheck{
					AttemptsLeft: wrong.AttemptsLeft,
					Replacement:  flowChallenge(wrong.Replacement),
				}, nil
			}
			return flows.CaptchaCheck{}, err
		},

		CreateTicket:        e.createTicket,
		CheckTicket:         e.checkTicket,
		RecordTicketFailure: e.recordTicketFailure,
		DeleteTicket: func(ctx context.Context, ticket string) {
			if _, err := e.ticketStore.Delete(ctx, ticket); err != nil {
				e.logger.Debug("two-factor ticket not deleted", zap.Error(err))
			}
		},

		VerifyTOTP: func(ctx context.Context, _ *flows.LoginAccount, code string) (bool, error) {
			err := e.verifyTwoFactorCode(ctx, full, code)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, ErrInvalidTwoFactorCode):
				return false, nil
			default:
				return false, err
			}
		},
		VerifyBackupCode: func(ctx context.Context, _ *flows.LoginAccount, code string) (int, bool, error) {
			canonical := flows.CanonicalizeBackupCode(code)
			if canonical == "" {
				return 0, false, nil
			}
			return e.store.ConsumeBackupCode(ctx, full.ID, flows.BackupCodeHash(full.ID, canonical))
		},

		IssueSession: func(ctx context.Context, _ *flows.LoginAccount) (string, error) {
			if e.sessions == nil {
				return "", nil
			}
			token, err := e.sessions.IssueSession(ctx, full.Profile())
			if err != nil {
				e.logger.Error("session issue failed", zap.String("account_id", full.ID), zap.Error(err))
			}
			return token, err
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		ObserveLatency: func(id int, d time.Duration) {
			if e.metrics != nil {
				e.metrics.Observe(MetricID(id), d)
			}
		},
		EmitAudit: e.emitAudit,

		Metrics: flows.LoginMetrics{
			LoginSuccess:      int(MetricLoginSuccess),
			LoginFailure:      int(MetricLoginFailure),
			LoginLocked:       int(MetricLoginLocked),
			AccountLocked:     int(MetricAccountLocked),
			CaptchaRequired:   int(MetricCaptchaRequired),
			CaptchaSolved:     int(MetricCaptchaSolved),
			CaptchaFailed:     int(MetricCaptchaFailed),
			TwoFactorRequired: int(MetricTwoFactorRequired),
			TOTPSuccess:       int(MetricTOTPSuccess),
			TOTPFailure:       int(MetricTOTPFailure),
			BackupCodeUsed:    int(MetricBackupCodeUsed),
			BackupCodeFailed:  int(MetricBackupCodeFailed),
			BackupCodeLow:     int(MetricBackupCodeLow),
			SessionCreated:    int(MetricSessionCreated),
			LoginLatency:      int(MetricLoginLatency),
			UnlockSuccess:     int(MetricUnlockSuccess),
			StoreUnavailable:  int(MetricStoreUnavailable),
			TicketExhausted:   int(MetricTwoFactorTicketExhausted),
		},
		Events: flows.LoginEvents{
			LoginSuccess:      auditEventLoginSuccess,
			LoginFailure:      auditEventLoginFailure,
			LoginLocked:       auditEventLoginLocked,
			AccountLocked:     auditEventAccountLocked,
			CaptchaRequired:   auditEventCaptchaRequired,
			CaptchaFailed:     auditEventCaptchaFailed,
			TwoFactorRequired: auditEventTwoFactorRequired,
			TwoFactorFailure:  auditEventTwoFactorFailure,
			BackupCodeUsed:    auditEventBackupCodeUsed,
			BackupCodesLow:    auditEventBackupCodesLow,
			Unlock:            auditEventUnlockSuccess,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:        ErrEngineNotReady,
			SessionCreationFailed: ErrSessionCreationFailed,
		},
	}
}

func (e *Engine) createTicket(ctx context.Context, accountID string) (string, error) {
	ticket, err := internal.NewOpaqueString()
	if err != nil {
		return "", err
	}
	ttl := e.config.TwoFactor.TicketTTL
	err = e.ticketStore.Save(ctx, ticket, &stores.LoginTicket{
		AccountID: accountID,
		ExpiresAt: e.clock().Add(ttl).Unix(),
	}, ttl)
	if err != nil {
		return "", unavailable(err)
	}
	return ticket, nil
}

// checkTicket reports whether ticket is live and was issued for accountID.
func (e *Engine) checkTicket(ctx context.Context, ticket, accountID string) (bool, error) {
	record, err := e.ticketStore.Get(ctx, ticket)
	switch {
	case errors.Is(err, stores.ErrTicketNotFound), errors.Is(err, stores.ErrTicketExpired):
		return false, nil
	case err != nil:
		return false, unavailable(err)
	}
	return record.AccountID == accountID, nil
}

func (e *Engine) recordTicketFailure(ctx context.Context, ticket string) (bool, error) {
	exceeded, err := e.ticketStore.RecordFailure(ctx, ticket, e.config.TwoFactor.TicketMaxAttempts)
	switch {
	case errors.Is(err, stores.ErrTicketNotFound), errors.Is(err, stores.ErrTicketExpired):
		return true, nil
	case err != nil:
		return false, unavailable(err)
	}
	return exceeded, nil
}

func loginAccountView(a *Account) *flows.LoginAccount {
	return &flows.LoginAccount{
		ID:               a.ID,
		Email:            a.Email,
		TwoFactorEnabled: a.TwoFactorState == TwoFactorEnabled,
		FailedLogins:     a.FailedLogins,
		LockedUntil:      a.LockedUntil,
	}
}

func flowChallenge(c *CaptchaChallenge) *flows.Challenge {
	if c == nil {
		return nil
	}
	return &flows.Challenge{SessionID: c.SessionID, Text: c.Challenge, ExpiresAt: c.ExpiresAt}
}

func captchaChallengeFromFlow(c *flows.Challenge) *CaptchaChallenge {
	if c == nil {
		return nil
	}
	return &CaptchaChallenge{SessionID: c.SessionID, Challenge: c.Text, ExpiresAt: c.ExpiresAt}
}

// loginErrorFromFlow relies on flows.RejectKind and RejectKind sharing
// their ordering.
func loginErrorFromFlow(r *flows.Rejection) *LoginError {
	return &LoginError{
		Kind:         RejectKind(r.Kind),
		RetryAfter:   r.RetryAfter,
		AttemptsLeft: r.AttemptsLeft,
		Challenge:    captchaChallengeFromFlow(r.Challenge),
	}
}

func (e *Engine) loginStepFromFlow(o *flows.LoginOutcome, account *Account) *LoginStep {
	step := &LoginStep{
		Kind:                 StepKind(o.Step),
		Challenge:            captchaChallengeFromFlow(o.Challenge),
		TwoFactorTicket:      o.Ticket,
		SessionToken:         o.SessionToken,
		BackupCodesRemaining: o.BackupCodesRemaining,
		BackupCodesLow:       o.BackupCodesLow,
	}
	if account != nil && o.Step == flows.StepAuthenticated {
		profile := account.Profile()
		step.Profile = &profile
	}
	if step.BackupCodesLow && account != nil {
		e.logger.Warn("backup codes running low",
			zap.String("account_id", account.ID),
			zap.Int("remaining", o.BackupCodesRemaining),
		)
	}
	return step
}
