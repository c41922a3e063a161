package authgate

import (
	"context"
	"time"

	"github.com/neurocheck/authgate/internal/audit"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLocked              = "login_locked"
	auditEventAccountLocked            = "account_locked"
	auditEventAccountUnlocked          = "account_unlocked"
	auditEventUnlockSuccess            = "unlock_success"
	auditEventCaptchaRequired          = "captcha_required"
	auditEventCaptchaFailed            = "captcha_failed"
	auditEventCaptchaRateLimited       = "captcha_rate_limited"
	auditEventTwoFactorRequired        = "two_factor_required"
	auditEventTwoFactorFailure         = "two_factor_failure"
	auditEventTwoFactorSetupRequested  = "two_factor_setup_requested"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventBackupCodeUsed           = "backup_code_used"
	auditEventBackupCodeFailed         = "backup_code_failed"
	auditEventBackupCodesLow           = "backup_codes_low"
	auditEventBackupCodesGenerated     = "backup_codes_generated"
	auditEventAccountCreated           = "account_created"
	auditEventAccountCreationDuplicate = "account_creation_duplicate"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
)

// emitAudit enqueues one event. metadataBuilder is only invoked when audit
// is enabled.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	email string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	info := requestInfoFrom(ctx)
	e.audit.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Email:     email,
		IP:        info.clientIP,
		UserAgent: info.userAgent,
		RequestID: info.requestID,
		Success:   success,
		Reason:    reason,
		Metadata:  metadata,
	})
}
