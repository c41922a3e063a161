package authgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/neurocheck/authgate/internal/flows"
	"github.com/neurocheck/authgate/internal/stores"
	"go.uber.org/zap"
)

// SetupTwoFactor starts TOTP enrollment for an account. The returned
// secret and backup codes are shown once; nothing is enforced at login
// until VerifyAndEnableTwoFactor confirms a first code. Calling it again
// before confirmation replaces the pending setup.
func (e *Engine) SetupTwoFactor(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorState == TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := e.totp.Generate(account.Email)
	if err != nil {
		return nil, err
	}
	qr, err := e.totp.QRCodeDataURL(key.URL())
	if err != nil {
		return nil, err
	}
	codes, hashes, err := flows.GenerateBackupCodes(account.ID, e.config.TwoFactor.BackupCodeCount, e.config.TwoFactor.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}

	ttl := e.config.TwoFactor.SetupTTL
	expiresAt := e.clock().Add(ttl)
	err = e.setupStore.Save(ctx, account.ID, &stores.TwoFactorSetupRecord{
		Secret:     key.Secret(),
		CodeHashes: hashes,
		ExpiresAt:  expiresAt.Unix(),
	}, ttl)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := e.store.SetTwoFactorPending(ctx, account.ID); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetupRequested, true, account.ID, account.Email, "", nil)
	return &TwoFactorSetup{
		Secret:          key.Secret(),
		ManualEntryKey:  manualEntryKey(key.Secret()),
		ProvisioningURI: key.URL(),
		QRCodeURL:       qr,
		BackupCodes:     codes,
		ExpiresAt:       expiresAt,
	}, nil
}

// VerifyAndEnableTwoFactor confirms a pending enrollment with the first
// code from the authenticator app. The pending setup survives a wrong code
// until it expires.
func (e *Engine) VerifyAndEnableTwoFactor(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.TwoFactorState == TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}

	record, err := e.setupStore.Get(ctx, account.ID)
	if err != nil {
		if errors.Is(err, stores.ErrSetupNotFound) {
			return ErrTwoFactorSetupNotFound
		}
		return unavailable(err)
	}
	if record.ExpiresAt <= e.clock().Unix() {
		return ErrTwoFactorSetupNotFound
	}

	secret, err := decodeTOTPSecret(record.Secret)
	if err != nil {
		return fmt.Errorf("pending two-factor secret unusable: %w", err)
	}
	ok, counter, err := e.totp.VerifyCode(secret, code, e.clock())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, account.ID, account.Email, "setup_code_invalid", nil)
		return ErrInvalidTwoFactorCode
	}

	if err := e.store.EnableTwoFactor(ctx, account.ID, secret, record.CodeHashes); err != nil {
		return err
	}
	if e.config.TwoFactor.EnforceReplayProtection {
		if _, err := e.store.AdvanceTwoFactorCounter(ctx, account.ID, counter); err != nil {
			return err
		}
	}
	if err := e.setupStore.Delete(ctx, account.ID); err != nil {
		e.logger.Warn("pending two-factor setup not deleted", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, account.ID, account.Email, "", nil)
	return nil
}

// VerifyTwoFactorLogin checks a TOTP code for an account with two-factor
// enabled. It does no lockout bookkeeping; Login does that.
func (e *Engine) VerifyTwoFactorLogin(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.TwoFactorState != TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.verifyTwoFactorCode(ctx, account, code); err != nil {
		if errors.Is(err, ErrInvalidTwoFactorCode) {
			e.metricInc(MetricTOTPFailure)
		}
		return err
	}
	e.metricInc(MetricTOTPSuccess)
	return nil
}

// verifyTwoFactorCode checks code against the enabled secret and, with
// replay protection, advances the stored time step. The store decides
// atomically, so of two concurrent logins with one code only one passes.
func (e *Engine) verifyTwoFactorCode(ctx context.Context, account *Account, code string) error {
	if account == nil || account.TwoFactorState != TwoFactorEnabled || len(account.TwoFactorSecret) == 0 {
		return ErrTwoFactorNotEnabled
	}

	ok, counter, err := e.totp.VerifyCode(account.TwoFactorSecret, code, e.clock())
	if err != nil {
		e.logger.Error("two-factor secret unusable", zap.String("account_id", account.ID), zap.Error(err))
		return fmt.Errorf("two-factor secret unusable: %w", err)
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}

	if e.config.TwoFactor.EnforceReplayProtection {
		advanced, err := e.store.AdvanceTwoFactorCounter(ctx, account.ID, counter)
		if err != nil {
			return err
		}
		if !advanced {
			e.metricInc(MetricTwoFactorReplay)
			return ErrInvalidTwoFactorCode
		}
		account.TwoFactorLastCounter = counter
	}
	return nil
}

// VerifyBackupCode spends one backup code. The code is removed whether or
// not the caller goes on to complete anything else.
func (e *Engine) VerifyBackupCode(ctx context.Context, accountID, code string) (*BackupCodeResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorState != TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	result, err := flows.RunVerifyBackupCode(ctx, account.ID, code, e.backupCodeFlowDeps(account.Email))
	if err != nil {
		return nil, err
	}
	if result.Low {
		e.logger.Warn("backup codes running low",
			zap.String("account_id", account.ID),
			zap.Int("remaining", result.Remaining),
		)
	}
	return &BackupCodeResult{Remaining: result.Remaining, Low: result.Low}, nil
}

func (e *Engine) backupCodeFlowDeps(email string) flows.BackupCodeDeps {
	return flows.BackupCodeDeps{
		LowWatermark:      e.config.TwoFactor.BackupCodeLowWatermark,
		ConsumeBackupCode: e.store.ConsumeBackupCode,
		MetricInc:         func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, success bool, accountID, reason string, metadata func() map[string]string) {
			e.emitAudit(ctx, event, success, accountID, email, reason, metadata)
		},
		Metrics: flows.BackupCodeMetrics{
			BackupCodeUsed:   int(MetricBackupCodeUsed),
			BackupCodeFailed: int(MetricBackupCodeFailed),
			BackupCodeLow:    int(MetricBackupCodeLow),
		},
		Events: flows.BackupCodeEvents{
			BackupCodeUsed:   auditEventBackupCodeUsed,
			BackupCodeFailed: auditEventBackupCodeFailed,
			BackupCodesLow:   auditEventBackupCodesLow,
		},
		Errors: flows.BackupCodeErrors{
			EngineNotReady:    ErrEngineNotReady,
			BackupCodeInvalid: ErrInvalidBackupCode,
		},
	}
}

// DisableTwoFactor turns the second factor off after re-checking the
// password. With RequireCodeToDisable the caller must also present a TOTP
// code or a backup code. A pending enrollment is cancelled without a code.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, plainPassword, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.TwoFactorState == TwoFactorDisabled {
		return ErrTwoFactorNotEnabled
	}
	if !e.credentials.verify(account, plainPassword) {
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, account.ID, account.Email, "disable_password_invalid", nil)
		return ErrInvalidPassword
	}

	if account.TwoFactorState == TwoFactorEnabled && e.config.TwoFactor.RequireCodeToDisable {
		if err := e.verifyDisableCode(ctx, account, code); err != nil {
			return err
		}
	}

	if err := e.store.DisableTwoFactor(ctx, account.ID); err != nil {
		return err
	}
	if err := e.setupStore.Delete(ctx, account.ID); err != nil {
		e.logger.Warn("pending two-factor setup not deleted", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, account.ID, account.Email, "", nil)
	return nil
}

// verifyDisableCode accepts either factor. A string of digits of the
// configured length is treated as a TOTP code, anything else as a backup
// code.
func (e *Engine) verifyDisableCode(ctx context.Context, account *Account, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrTwoFactorRequired
	}

	if len(code) == e.config.TwoFactor.Digits && isNumericString(code) {
		err := e.verifyTwoFactorCode(ctx, account, code)
		if errors.Is(err, ErrInvalidTwoFactorCode) {
			e.metricInc(MetricTOTPFailure)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, account.ID, account.Email, "disable_code_invalid", nil)
		}
		return err
	}

	_, err := flows.RunVerifyBackupCode(ctx, account.ID, code, e.backupCodeFlowDeps(account.Email))
	return err
}

// TwoFactorStatus reports enrollment state. PendingSetup is false once the
// pending setup has expired, even if the account was never reset.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatus, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &TwoFactorStatus{Enabled: account.TwoFactorState == TwoFactorEnabled}
	if status.Enabled {
		status.BackupCodesRemaining = account.BackupCodesRemaining
		return status, nil
	}
	if account.TwoFactorState == TwoFactorPendingSetup {
		_, err := e.setupStore.Get(ctx, account.ID)
		switch {
		case err == nil:
			status.PendingSetup = true
		case !errors.Is(err, stores.ErrSetupNotFound):
			return nil, unavailable(err)
		}
	}
	return status, nil
}

// RegenerateBackupCodes replaces every remaining backup code. It requires
// a current TOTP code so a stolen session alone cannot mint new codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	account, err := e.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorState != TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrTwoFactorRequired
	}
	if err := e.verifyTwoFactorCode(ctx, account, code); err != nil {
		if errors.Is(err, ErrInvalidTwoFactorCode) {
			e.metricInc(MetricTOTPFailure)
		}
		return nil, err
	}

	codes, hashes, err := flows.GenerateBackupCodes(account.ID, e.config.TwoFactor.BackupCodeCount, e.config.TwoFactor.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, account.Email, "", func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

func (e *Engine) accountByID(ctx context.Context, accountID string) (*Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.GetByID(ctx, accountID)
}
