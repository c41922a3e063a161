package internaldefs

import (
	"github.com/neurocheck/authgate"
)

type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Completed logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Login attempts rejected for bad credentials."},
	{ID: authgate.MetricLoginLocked, Name: "authgate_login_locked_total", Help: "Login attempts rejected because the account is locked."},
	{ID: authgate.MetricAccountLocked, Name: "authgate_account_locked_total", Help: "Accounts that crossed the hard lockout threshold."},
	{ID: authgate.MetricUnlockSuccess, Name: "authgate_unlock_success_total", Help: "Successful screen-unlock re-authentications."},
	{ID: authgate.MetricCaptchaIssued, Name: "authgate_captcha_issued_total", Help: "CAPTCHA challenges issued."},
	{ID: authgate.MetricCaptchaRequired, Name: "authgate_captcha_required_total", Help: "Login attempts that were asked for a CAPTCHA."},
	{ID: authgate.MetricCaptchaSolved, Name: "authgate_captcha_solved_total", Help: "CAPTCHA challenges answered correctly."},
	{ID: authgate.MetricCaptchaFailed, Name: "authgate_captcha_failed_total", Help: "Incorrect CAPTCHA answers."},
	{ID: authgate.MetricCaptchaRateLimited, Name: "authgate_captcha_rate_limited_total", Help: "CAPTCHA issue requests denied by the per-client limit."},
	{ID: authgate.MetricTwoFactorRequired, Name: "authgate_two_factor_required_total", Help: "Logins that stopped at the two-factor step."},
	{ID: authgate.MetricTOTPSuccess, Name: "authgate_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: authgate.MetricTOTPFailure, Name: "authgate_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: authgate.MetricTwoFactorReplay, Name: "authgate_two_factor_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: authgate.MetricTwoFactorTicketExhausted, Name: "authgate_two_factor_ticket_exhausted_total", Help: "Two-factor tickets discarded after too many bad codes."},
	{ID: authgate.MetricTwoFactorEnabled, Name: "authgate_two_factor_enabled_total", Help: "Two-factor enrollments completed."},
	{ID: authgate.MetricTwoFactorDisabled, Name: "authgate_two_factor_disabled_total", Help: "Two-factor enrollments removed."},
	{ID: authgate.MetricBackupCodeUsed, Name: "authgate_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authgate.MetricBackupCodeFailed, Name: "authgate_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authgate.MetricBackupCodeLow, Name: "authgate_backup_code_low_total", Help: "Backup-code uses that left the account under the low watermark."},
	{ID: authgate.MetricBackupCodeRegenerated, Name: "authgate_backup_code_regenerated_total", Help: "Backup-code regenerations."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Sessions issued."},
	{ID: authgate.MetricAccountCreationSuccess, Name: "authgate_account_creation_success_total", Help: "Accounts created."},
	{ID: authgate.MetricAccountCreationDuplicate, Name: "authgate_account_creation_duplicate_total", Help: "Account creations rejected as duplicate."},
	{ID: authgate.MetricPasswordChangeSuccess, Name: "authgate_password_change_success_total", Help: "Password changes."},
	{ID: authgate.MetricPasswordChangeInvalidOld, Name: "authgate_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authgate.MetricPasswordChangeReuseRejected, Name: "authgate_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset requests."},
	{ID: authgate.MetricPasswordResetRateLimited, Name: "authgate_password_reset_rate_limited_total", Help: "Password reset requests dropped by the limiter."},
	{ID: authgate.MetricPasswordResetConfirmSuccess, Name: "authgate_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authgate.MetricPasswordResetConfirmFailure, Name: "authgate_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: authgate.MetricStoreUnavailable, Name: "authgate_store_unavailable_total", Help: "Operations that failed on an unavailable store."},
}

var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricLoginLatency, Name: "authgate_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds matches the engine's login latency buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
