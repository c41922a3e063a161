package authgate

import (
	"context"
	"time"
)

// Role is the capability set attached to an account.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleOrganizationAdmin Role = "organization_admin"
	RoleDoctor            Role = "doctor"
	RoleStaff             Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOrganizationAdmin, RoleDoctor, RoleStaff:
		return true
	}
	return false
}

// TwoFactorState is the enrollment state of an account's TOTP factor.
type TwoFactorState uint8

const (
	TwoFactorDisabled TwoFactorState = iota
	TwoFactorPendingSetup
	TwoFactorEnabled
)

func (s TwoFactorState) String() string {
	switch s {
	case TwoFactorPendingSetup:
		return "pending_setup"
	case TwoFactorEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// Account is the persisted identity record.
//
// TwoFactorSecret is only set while TwoFactorState is TwoFactorEnabled;
// the pending secret of an enrollment lives in the setup store until it is
// confirmed. Backup codes are held by the AccountStore as SHA-256 digests;
// BackupCodesRemaining is the size of that set at read time.
type Account struct {
	ID                   string
	Email                string
	PasswordHash         string
	Role                 Role
	TwoFactorState       TwoFactorState
	TwoFactorSecret      []byte
	TwoFactorLastCounter int64
	BackupCodesRemaining int
	FailedLogins         int
	LockedUntil          time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Profile returns the public view of the account.
func (a *Account) Profile() AccountProfile {
	return AccountProfile{
		ID:               a.ID,
		Email:            a.Email,
		Role:             a.Role,
		TwoFactorEnabled: a.TwoFactorState == TwoFactorEnabled,
	}
}

// AccountProfile is the public, client-safe subset of an Account.
type AccountProfile struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Role             Role   `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// AccountStore persists accounts.
//
// Implementations must make IncrementFailedLogins and ResetFailedLogins
// atomic per account, and ConsumeBackupCode must remove the digest in the
// same operation that checks for it. Lookups return ErrAccountNotFound for
// unknown accounts; any other error is treated as a transient failure.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) error

	// IncrementFailedLogins adds one to the failure counter and, when the new
	// value reaches lockThreshold, sets LockedUntil to lockUntil. It returns
	// the counter and lockout after the update.
	IncrementFailedLogins(ctx context.Context, id string, lockThreshold int, lockUntil time.Time) (int, time.Time, error)
	ResetFailedLogins(ctx context.Context, id string) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error

	SetTwoFactorPending(ctx context.Context, id string) error
	EnableTwoFactor(ctx context.Context, id string, secret []byte, codeHashes [][32]byte) error
	DisableTwoFactor(ctx context.Context, id string) error
	// AdvanceTwoFactorCounter stores counter only if it is greater than
	// the stored one, as a single compare-and-set. advanced is false when
	// the counter was not moved, which marks a replayed code.
	AdvanceTwoFactorCounter(ctx context.Context, id string, counter int64) (advanced bool, err error)
	ReplaceBackupCodes(ctx context.Context, id string, codeHashes [][32]byte) error
	// ConsumeBackupCode removes hash from the account's set. ok is false
	// when the hash was not present; remaining is the size of the set
	// after the call.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (remaining int, ok bool, err error)
}

// SessionIssuer establishes an authenticated session after a full login.
// The returned token is handed to the client as-is.
type SessionIssuer interface {
	IssueSession(ctx context.Context, profile AccountProfile) (string, error)
}

// ResetNotifier delivers password reset tokens out of band.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LoginAttempt carries everything a client submitted for one login call.
//
// TwoFactorTicket is returned with a StepNeedsTwoFactor result and lets
// the follow-up submission skip the captcha gate that the first submission
// already satisfied. IsUnlock re-authenticates an already signed-in user
// (for example a locked screen) without minting a new session.
type LoginAttempt struct {
	Email            string
	Password         string
	CaptchaSessionID string
	CaptchaAnswer    string
	TwoFactorCode    string
	BackupCode       string
	TwoFactorTicket  string
	IsUnlock         bool
}

// StepKind is the non-error outcome of a login call.
type StepKind uint8

const (
	StepAuthenticated StepKind = iota + 1
	StepNeedsCaptcha
	StepNeedsTwoFactor
)

func (k StepKind) String() string {
	switch k {
	case StepAuthenticated:
		return "authenticated"
	case StepNeedsCaptcha:
		return "needs_captcha"
	case StepNeedsTwoFactor:
		return "needs_two_factor"
	default:
		return "unknown"
	}
}

// LoginStep is the result of Engine.Login when the attempt was not rejected.
//
//   - StepAuthenticated: Profile and SessionToken are set (SessionToken is
//     empty for unlock attempts or when no SessionIssuer is configured).
//   - StepNeedsCaptcha: Challenge is set.
//   - StepNeedsTwoFactor: TwoFactorTicket is set.
type LoginStep struct {
	Kind                 StepKind
	Profile              *AccountProfile
	SessionToken         string
	Challenge            *CaptchaChallenge
	TwoFactorTicket      string
	BackupCodesRemaining int
	BackupCodesLow       bool
}

// CaptchaChallenge is the client-visible half of an arithmetic challenge.
// The answer never leaves the engine.
type CaptchaChallenge struct {
	SessionID string    `json:"captchaSessionId"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TwoFactorSetup is returned once by SetupTwoFactor. The backup codes are
// not recoverable afterwards.
type TwoFactorSetup struct {
	Secret          string
	ManualEntryKey  string
	ProvisioningURI string
	QRCodeURL       string
	BackupCodes     []string
	ExpiresAt       time.Time
}

// TwoFactorStatus is the read-only view of an account's second factor.
type TwoFactorStatus struct {
	Enabled              bool
	PendingSetup         bool
	BackupCodesRemaining int
}

// BackupCodeResult reports the state left behind by a consumed backup code.
type BackupCodeResult struct {
	Remaining int
	Low       bool
}

// CreateAccountRequest is the input of Engine.CreateAccount.
type CreateAccountRequest struct {
	Email    string
	Password string
	Role     Role
}
