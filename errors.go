package authgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput is returned for malformed requests. No state is mutated.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when a backing store cannot answer in time.
	// It is never folded into an authentication failure.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrAccountNotFound is returned by AccountStore implementations for unknown accounts.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by AccountStore.Create for a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountRoleInvalid is returned when an account is created with an unknown role.
	ErrAccountRoleInvalid = errors.New("invalid account role")

	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrCaptchaRequired      = errors.New("captcha required")
	ErrIncorrectCaptcha     = errors.New("incorrect captcha answer")
	ErrTwoFactorRequired    = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrInvalidBackupCode    = errors.New("invalid backup code")

	// ErrChallengeNotFound covers unknown, consumed and TTL-evicted captcha sessions.
	ErrChallengeNotFound = errors.New("captcha challenge not found")
	// ErrChallengeExpired is returned when a stored challenge is read after its expiry.
	ErrChallengeExpired = errors.New("captcha challenge expired")
	// ErrCaptchaRateLimited is returned when a client requests too many standalone challenges.
	ErrCaptchaRateLimited = errors.New("captcha issuance rate limited")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")
	ErrTwoFactorSetupNotFound  = errors.New("two-factor setup not found or expired")
	ErrInvalidPassword         = errors.New("invalid password")

	ErrPasswordPolicy        = errors.New("password policy violation")
	ErrPasswordReuse         = errors.New("new password must be different from current password")
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	ErrPasswordResetInvalid  = errors.New("password reset token invalid")

	ErrSessionCreationFailed = errors.New("session creation failed")
)

// RejectKind classifies a rejected login attempt. It is the only
// externally visible reason a login failed.
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

func (k RejectKind) String() string {
	switch k {
	case RejectAccountLocked:
		return "account_locked"
	case RejectInvalidCredentials:
		return "invalid_credentials"
	case RejectCaptchaRequired:
		return "captcha_required"
	case RejectIncorrectCaptcha:
		return "incorrect_captcha"
	case RejectTwoFactorRequired:
		return "two_factor_required"
	case RejectInvalidTwoFactorCode:
		return "invalid_two_factor_code"
	case RejectInvalidBackupCode:
		return "invalid_backup_code"
	default:
		return "unknown"
	}
}

func (k RejectKind) sentinel() error {
	switch k {
	case RejectAccountLocked:
		return ErrAccountLocked
	case RejectInvalidCredentials:
		return ErrInvalidCredentials
	case RejectCaptchaRequired:
		return ErrCaptchaRequired
	case RejectIncorrectCaptcha:
		return ErrIncorrectCaptcha
	case RejectTwoFactorRequired:
		return ErrTwoFactorRequired
	case RejectInvalidTwoFactorCode:
		return ErrInvalidTwoFactorCode
	case RejectInvalidBackupCode:
		return ErrInvalidBackupCode
	default:
		return ErrInvalidCredentials
	}
}

// LoginError is a rejected login attempt. errors.Is matches the sentinel
// for its Kind, e.g. errors.Is(err, ErrAccountLocked).
//
// Only the fields relevant to Kind are set: RetryAfter for locked
// accounts, AttemptsLeft and Challenge for captcha failures.
type LoginError struct {
	Kind         RejectKind
	RetryAfter   time.Duration
	AttemptsLeft int
	Challenge    *CaptchaChallenge
}

func (e *LoginError) Error() string {
	if e.Kind == RejectAccountLocked && e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", e.Kind.sentinel(), e.RetryAfter.Round(time.Second))
	}
	return e.Kind.sentinel().Error()
}

func (e *LoginError) Unwrap() error {
	return e.Kind.sentinel()
}

// LockoutError is returned by CheckLockout for a locked account.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrAccountLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// CaptchaError is returned by VerifyCaptcha when the submitted answer is
// wrong. When AttemptsLeft reaches zero the challenge is discarded and
// Replacement carries a freshly issued one.
type CaptchaError struct {
	AttemptsLeft int
	Replacement  *CaptchaChallenge
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("%s: %d attempts left", ErrIncorrectCaptcha, e.AttemptsLeft)
}

func (e *CaptchaError) Unwrap() error { return ErrIncorrectCaptcha }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
