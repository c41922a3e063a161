package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/neurocheck/authgate/password"
	"go.uber.org/zap"
)

const maxEmailLength = 254

type credentialVerifier struct {
	config PasswordConfig
	store  AccountStore
	hasher *password.Hasher
	logger *zap.Logger
}

func newCredentialVerifier(cfg PasswordConfig, store AccountStore, hasher *password.Hasher, logger *zap.Logger) *credentialVerifier {
	return &credentialVerifier{config: cfg, store: store, hasher: hasher, logger: logger}
}

// normalizeEmail lowercases and trims; emails are unique case-insensitively.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// lookup returns (nil, nil) for an unknown email.
func (v *credentialVerifier) lookup(ctx context.Context, email string) (*Account, error) {
	account, err := v.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

// verify compares plain against the account's hash. A nil account still
// costs one hash verification so response time does not reveal whether the
// email exists.
func (v *credentialVerifier) verify(account *Account, plain string) bool {
	if account == nil {
		v.hasher.DummyVerify(plain)
		return false
	}

	ok, err := v.hasher.Verify(plain, account.PasswordHash)
	if err != nil {
		v.logger.Warn("stored password hash unusable",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// upgrade rehashes a legacy or weak hash after a successful verification.
// Failures are logged and otherwise ignored.
func (v *credentialVerifier) upgrade(ctx context.Context, account *Account, plain string) {
	if !v.config.UpgradeOnLogin {
		return
	}
	needs, err := v.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}

	hash, err := v.hasher.Hash(plain)
	if err != nil {
		v.logger.Warn("password rehash failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	if err := v.store.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		v.logger.Warn("password rehash not stored", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	account.PasswordHash = hash
}

func (v *credentialVerifier) checkPolicy(plain string) error {
	if len(plain) < v.config.MinLength {
		return ErrPasswordPolicy
	}
	if len(plain) > password.DefaultMaxPasswordBytes {
		return ErrPasswordPolicy
	}
	return nil
}
