package security

import "time"

type PasswordReport struct {
	Memory       uint32
	Time         uint32
	Parallelism  uint8
	SaltLength   uint32
	KeyLength    uint32
	LegacyBcrypt bool
}

// Report is a flat summary of which protections an engine runs with.
type Report struct {
	Argon2                 PasswordReport
	CaptchaAfterFailures   int
	LockAfterFailures      int
	LockDuration           time.Duration
	ShadowLockoutActive    bool
	CaptchaIssueThrottled  bool
	TwoFactorReplayGuard   bool
	TwoFactorCodeToDisable bool
	BackupCodes            int
	PasswordResetActive    bool
	PasswordResetThrottled bool
	AuditActive            bool
	StoreOperationTimeout  time.Duration
}

type ReportInput struct {
	Password              PasswordReport
	SoftThreshold         int
	HardThreshold         int
	LockDuration          time.Duration
	ShadowWindow          time.Duration
	CaptchaIssueLimit     int
	ReplayProtection      bool
	RequireCodeToDisable  bool
	BackupCodeCount       int
	PasswordResetEnabled  bool
	PasswordResetLimit    int
	AuditEnabled          bool
	StoreOperationTimeout time.Duration
}

func BuildReport(input ReportInput) Report {
	return Report{
		Argon2:                 input.Password,
		CaptchaAfterFailures:   input.SoftThreshold,
		LockAfterFailures:      input.HardThreshold,
		LockDuration:           input.LockDuration,
		ShadowLockoutActive:    input.ShadowWindow > 0,
		CaptchaIssueThrottled:  input.CaptchaIssueLimit > 0,
		TwoFactorReplayGuard:   input.ReplayProtection,
		TwoFactorCodeToDisable: input.RequireCodeToDisable,
		BackupCodes:            input.BackupCodeCount,
		PasswordResetActive:    input.PasswordResetEnabled,
		PasswordResetThrottled: input.PasswordResetEnabled && input.PasswordResetLimit > 0,
		AuditActive:            input.AuditEnabled,
		StoreOperationTimeout:  input.StoreOperationTimeout,
	}
}
