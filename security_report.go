package authgate

import "github.com/neurocheck/authgate/internal/security"

// SecurityReport summarizes the active protections, for startup logs.
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	return security.BuildReport(security.ReportInput{
		Password: security.PasswordReport{
			Memory:       c.Password.Memory,
			Time:         c.Password.Time,
			Parallelism:  c.Password.Parallelism,
			SaltLength:   c.Password.SaltLength,
			KeyLength:    c.Password.KeyLength,
			LegacyBcrypt: c.Password.AcceptLegacyBcrypt,
		},
		SoftThreshold:         c.Lockout.SoftThreshold,
		HardThreshold:         c.Lockout.HardThreshold,
		LockDuration:          c.Lockout.Duration,
		ShadowWindow:          c.Lockout.ShadowWindow,
		CaptchaIssueLimit:     c.Captcha.IssueLimit,
		ReplayProtection:      c.TwoFactor.EnforceReplayProtection,
		RequireCodeToDisable:  c.TwoFactor.RequireCodeToDisable,
		BackupCodeCount:       c.TwoFactor.BackupCodeCount,
		PasswordResetEnabled:  c.PasswordReset.Enabled,
		PasswordResetLimit:    c.PasswordReset.RequestLimit,
		AuditEnabled:          c.Audit.Enabled,
		StoreOperationTimeout: c.Store.OperationTimeout,
	})
}
