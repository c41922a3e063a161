package httpapi

import (
	"context"

	"github.com/neurocheck/authgate"
)

// AuthService is the engine surface the handlers use. *authgate.Engine
// satisfies it.
type AuthService interface {
	Login(ctx context.Context, attempt authgate.LoginAttempt) (*authgate.LoginStep, error)
	IssueCaptcha(ctx context.Context) (*authgate.CaptchaChallenge, error)

	SetupTwoFactor(ctx context.Context, accountID string) (*authgate.TwoFactorSetup, error)
	VerifyAndEnableTwoFactor(ctx context.Context, accountID, code string) error
	DisableTwoFactor(ctx context.Context, accountID, password, code string) error
	TwoFactorStatus(ctx context.Context, accountID string) (*authgate.TwoFactorStatus, error)
	RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error)

	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error

	CreateAccount(ctx context.Context, req authgate.CreateAccountRequest) (*authgate.AccountProfile, error)
}

var _ AuthService = (*authgate.Engine)(nil)
