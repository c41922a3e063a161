package flows

import (
	"context"
	"strconv"
	"time"
)

// LoginInput is the flow-local login request. Email is already normalized.
type LoginInput struct {
	Email            string
	Password         string
	CaptchaSessionID string
	CaptchaAnswer    string
	TwoFactorCode    string
	BackupCode       string
	Ticket           string
	IsUnlock         bool
}

// LoginAccount is the flow-local account view.
type LoginAccount struct {
	ID               string
	Email            string
	TwoFactorEnabled bool
	FailedLogins     int
	LockedUntil      time.Time
}

// Challenge is a flow-local captcha challenge.
type Challenge struct {
	SessionID string
	Text      string
	ExpiresAt time.Time
}

// CaptchaCheck is the outcome of one captcha answer.
//   - OK: solved and consumed.
//   - Missing: unknown, consumed or expired session.
//   - otherwise wrong; Replacement is set once attempts ran out.
type CaptchaCheck struct {
	OK           bool
	Missing      bool
	AttemptsLeft int
	Replacement  *Challenge
}

type StepKind uint8

const (
	StepAuthenticated StepKind = iota + 1
	StepNeedsCaptcha
	StepNeedsTwoFactor
)

// LoginOutcome is a non-rejected login result.
type LoginOutcome struct {
	Step                 StepKind
	Account              *LoginAccount
	Challenge            *Challenge
	Ticket               string
	SessionToken         string
	BackupCodesRemaining int
	BackupCodesLow       bool
}

type RejectKind uint8

const (
	RejectAccountLocked RejectKind = iota + 1
	RejectInvalidCredentials
	RejectCaptchaRequired
	RejectIncorrectCaptcha
	RejectTwoFactorRequired
	RejectInvalidTwoFactorCode
	RejectInvalidBackupCode
)

// Rejection is returned as an error for every externally visible refusal.
type Rejection struct {
	Kind         RejectKind
	RetryAfter   time.Duration
	AttemptsLeft int
	Challenge    *Challenge
}

func (r *Rejection) Error() string { return "login rejected" }

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess      int
	LoginFailure      int
	LoginLocked       int
	AccountLocked     int
	CaptchaRequired   int
	CaptchaSolved     int
	CaptchaFailed     int
	TwoFactorRequired int
	TOTPSuccess       int
	TOTPFailure       int
	BackupCodeUsed    int
	BackupCodeFailed  int
	BackupCodeLow     int
	SessionCreated    int
	LoginLatency      int
	UnlockSuccess     int
	StoreUnavailable  int
	TicketExhausted   int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess      string
	LoginFailure      string
	LoginLocked       string
	AccountLocked     string
	CaptchaRequired   string
	CaptchaFailed     string
	TwoFactorRequired string
	TwoFactorFailure  string
	BackupCodeUsed    string
	BackupCodesLow    string
	Unlock            string
}

// LoginErrors carries host sentinels.
type LoginErrors struct {
	EngineNotReady        error
	SessionCreationFailed error
}

// LoginDeps captures every collaborator of the login state machine.
type LoginDeps struct {
	SoftThreshold int
	LowWatermark  int

	Now func() time.Time

	LookupAccount       func(context.Context, string) (*LoginAccount, error)
	ShadowState         func(context.Context, string) (int, time.Duration, error)
	RecordShadowFailure func(context.Context, string) error
	RecordFailure       func(context.Context, *LoginAccount) (bool, error)
	RecordSuccess       func(context.Context, *LoginAccount) error

	VerifyPassword  func(context.Context, *LoginAccount, string) bool
	UpgradePassword func(context.Context, *LoginAccount, string)

	// IssueCaptcha binds the challenge to the email; VerifyCaptcha takes the
	// email, session id and answer and reports a foreign challenge as Missing.
	IssueCaptcha  func(context.Context, string) (*Challenge, error)
	VerifyCaptcha func(context.Context, string, string, string) (CaptchaCheck, error)

	CreateTicket        func(context.Context, string) (string, error)
	CheckTicket         func(context.Context, string, string) (bool, error)
	RecordTicketFailure func(context.Context, string) (bool, error)
	DeleteTicket        func(context.Context, string)

	VerifyTOTP       func(context.Context, *LoginAccount, string) (bool, error)
	VerifyBackupCode func(context.Context, *LoginAccount, string) (int, bool, error)

	IssueSession func(context.Context, *LoginAccount) (string, error)

	MetricInc      func(int)
	ObserveLatency func(int, time.Duration)
	EmitAudit      func(ctx context.Context, event string, success bool, accountID, email, reason string, metadata func() map[string]string)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, string, func() map[string]string) {}
	}
	if deps.UpgradePassword == nil {
		deps.UpgradePassword = func(context.Context, *LoginAccount, string) {}
	}
	if deps.DeleteTicket == nil {
		deps.DeleteTicket = func(context.Context, string) {}
	}
}

// RunLogin evaluates one login submission.
//
// The order is fixed: lockout, captcha gate, captcha answer, password,
// second factor, success. A step that needs more input returns a
// LoginOutcome; a refusal returns *Rejection; anything else is a backend
// error from a dependency.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)

	if deps.LookupAccount == nil || deps.ShadowState == nil || deps.RecordShadowFailure == nil ||
		deps.RecordFailure == nil || deps.RecordSuccess == nil || deps.VerifyPassword == nil ||
		deps.IssueCaptcha == nil || deps.VerifyCaptcha == nil || deps.CreateTicket == nil ||
		deps.CheckTicket == nil || deps.RecordTicketFailure == nil || deps.VerifyTOTP == nil ||
		deps.VerifyBackupCode == nil || deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() {
		deps.ObserveLatency(deps.Metrics.LoginLatency, time.Since(start))
	}()

	fail := func(accountID, reason string) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, accountID, in.Email, reason, nil)
	}

	// 1. Lockout. A locked identifier is refused before anything else is
	// looked at.
	account, err := deps.LookupAccount(ctx, in.Email)
	if err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		return nil, err
	}

	var captchaRequired bool
	if account != nil {
		if now := deps.Now(); now.Before(account.LockedUntil) {
			deps.MetricInc(deps.Metrics.LoginLocked)
			deps.EmitAudit(ctx, deps.Events.LoginLocked, false, account.ID, in.Email, "account_locked", nil)
			return nil, &Rejection{Kind: RejectAccountLocked, RetryAfter: account.LockedUntil.Sub(now)}
		}
		captchaRequired = account.FailedLogins >= deps.SoftThreshold
	} else {
		failures, retryAfter, err := deps.ShadowState(ctx, in.Email)
		if err != nil {
			deps.MetricInc(deps.Metrics.StoreUnavailable)
			return nil, err
		}
		if retryAfter > 0 {
			deps.MetricInc(deps.Metrics.LoginLocked)
			deps.EmitAudit(ctx, deps.Events.LoginLocked, false, "", in.Email, "account_locked", nil)
			return nil, &Rejection{Kind: RejectAccountLocked, RetryAfter: retryAfter}
		}
		captchaRequired = failures >= deps.SoftThreshold
	}

	// A live two-factor ticket proves this client already passed the
	// captcha and password steps for this account.
	ticketValid := false
	if in.Ticket != "" && account != nil && account.TwoFactorEnabled {
		ticketValid, err = deps.CheckTicket(ctx, in.Ticket, account.ID)
		if err != nil {
			deps.MetricInc(deps.Metrics.StoreUnavailable)
			return nil, err
		}
	}

	// 2. Captcha gate. The password is not checked on this branch.
	if captchaRequired && !ticketValid && in.CaptchaSessionID == "" {
		challenge, err := deps.IssueCaptcha(ctx, in.Email)
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.CaptchaRequired)
		deps.EmitAudit(ctx, deps.Events.CaptchaRequired, false, accountID(account), in.Email, "", nil)
		return &LoginOutcome{Step: StepNeedsCaptcha, Challenge: challenge}, nil
	}

	// 3. Captcha answer. Failures here never touch the lockout counter.
	if in.CaptchaSessionID != "" && !ticketValid {
		check, err := deps.VerifyCaptcha(ctx, in.Email, in.CaptchaSessionID, in.CaptchaAnswer)
		if err != nil {
			return nil, err
		}
		if !check.OK {
			deps.MetricInc(deps.Metrics.CaptchaFailed)
			deps.EmitAudit(ctx, deps.Events.CaptchaFailed, false, accountID(account), in.Email, "", nil)
			if check.Missing {
				challenge, err := deps.IssueCaptcha(ctx, in.Email)
				if err != nil {
					return nil, err
				}
				return nil, &Rejection{Kind: RejectCaptchaRequired, Challenge: challenge}
			}
			return nil, &Rejection{
				Kind:         RejectIncorrectCaptcha,
				AttemptsLeft: check.AttemptsLeft,
				Challenge:    check.Replacement,
			}
		}
		deps.MetricInc(deps.Metrics.CaptchaSolved)
	}

	// 4. Password.
	if !deps.VerifyPassword(ctx, account, in.Password) {
		if account == nil {
			if err := deps.RecordShadowFailure(ctx, in.Email); err != nil {
				return nil, err
			}
		} else {
			lockedNow, err := deps.RecordFailure(ctx, account)
			if err != nil {
				deps.MetricInc(deps.Metrics.StoreUnavailable)
				return nil, err
			}
			if lockedNow {
				deps.MetricInc(deps.Metrics.AccountLocked)
				deps.EmitAudit(ctx, deps.Events.AccountLocked, false, account.ID, in.Email, "hard_threshold", nil)
			}
		}
		fail(accountID(account), "invalid_credentials")
		return nil, &Rejection{Kind: RejectInvalidCredentials}
	}
	deps.UpgradePassword(ctx, account, in.Password)

	// 5/6. Second factor.
	outcome := &LoginOutcome{Step: StepAuthenticated, Account: account}
	if account.TwoFactorEnabled {
		if in.TwoFactorCode == "" && in.BackupCode == "" {
			ticket := in.Ticket
			if !ticketValid {
				ticket, err = deps.CreateTicket(ctx, account.ID)
				if err != nil {
					return nil, err
				}
			}
			deps.MetricInc(deps.Metrics.TwoFactorRequired)
			deps.EmitAudit(ctx, deps.Events.TwoFactorRequired, true, account.ID, in.Email, "", nil)
			return &LoginOutcome{Step: StepNeedsTwoFactor, Account: account, Ticket: ticket}, nil
		}

		kind, reason, err := verifySecondFactor(ctx, in, account, outcome, deps)
		if err != nil {
			return nil, err
		}
		if kind != 0 {
			lockedNow, err := deps.RecordFailure(ctx, account)
			if err != nil {
				deps.MetricInc(deps.Metrics.StoreUnavailable)
				return nil, err
			}
			if lockedNow {
				deps.MetricInc(deps.Metrics.AccountLocked)
				deps.EmitAudit(ctx, deps.Events.AccountLocked, false, account.ID, in.Email, "hard_threshold", nil)
			}
			if ticketValid {
				if exceeded, err := deps.RecordTicketFailure(ctx, in.Ticket); err == nil && exceeded {
					deps.MetricInc(deps.Metrics.TicketExhausted)
				}
			}
			deps.EmitAudit(ctx, deps.Events.TwoFactorFailure, false, account.ID, in.Email, reason, nil)
			fail(account.ID, reason)
			return nil, &Rejection{Kind: kind}
		}
	}

	// 7. Success.
	if err := deps.RecordSuccess(ctx, account); err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		return nil, err
	}
	if in.Ticket != "" {
		deps.DeleteTicket(ctx, in.Ticket)
	}

	if in.IsUnlock {
		deps.MetricInc(deps.Metrics.UnlockSuccess)
		deps.EmitAudit(ctx, deps.Events.Unlock, true, account.ID, in.Email, "", nil)
		return outcome, nil
	}

	token, err := deps.IssueSession(ctx, account)
	if err != nil {
		return nil, deps.Errors.SessionCreationFailed
	}
	outcome.SessionToken = token

	deps.MetricInc(deps.Metrics.LoginSuccess)
	if token != "" {
		deps.MetricInc(deps.Metrics.SessionCreated)
	}
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, account.ID, in.Email, "", nil)
	return outcome, nil
}

// verifySecondFactor prefers the TOTP code when both are supplied. A zero
// kind means the factor was accepted.
func verifySecondFactor(ctx context.Context, in LoginInput, account *LoginAccount, outcome *LoginOutcome, deps LoginDeps) (RejectKind, string, error) {
	if in.TwoFactorCode != "" {
		ok, err := deps.VerifyTOTP(ctx, account, in.TwoFactorCode)
		if err != nil {
			return 0, "", err
		}
		if !ok {
			deps.MetricInc(deps.Metrics.TOTPFailure)
			return RejectInvalidTwoFactorCode, "invalid_two_factor_code", nil
		}
		deps.MetricInc(deps.Metrics.TOTPSuccess)
		return 0, "", nil
	}

	remaining, ok, err := deps.VerifyBackupCode(ctx, account, in.BackupCode)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		return RejectInvalidBackupCode, "invalid_backup_code", nil
	}

	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, account.ID, in.Email, "", nil)
	outcome.BackupCodesRemaining = remaining
	if remaining <= deps.LowWatermark {
		outcome.BackupCodesLow = true
		deps.MetricInc(deps.Metrics.BackupCodeLow)
		deps.EmitAudit(ctx, deps.Events.BackupCodesLow, true, account.ID, in.Email, "", func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(remaining)}
		})
	}
	return 0, "", nil
}

func accountID(account *LoginAccount) string {
	if account == nil {
		return ""
	}
	return account.ID
}
