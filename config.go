package authgate

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override what differs; Builder.Build validates the result.
type Config struct {
	Lockout       LockoutConfig
	Captcha       CaptchaConfig
	TwoFactor     TwoFactorConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Store         StoreConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failure counting.
//
// Reaching SoftThreshold failures puts a captcha in front of the password
// check; reaching HardThreshold locks the account for Duration. Unknown
// identifiers get shadow counters that follow the same thresholds and
// expire after ShadowWindow of inactivity.
type LockoutConfig struct {
	SoftThreshold int
	HardThreshold int
	Duration      time.Duration
	ShadowWindow  time.Duration
	RedisPrefix   string
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig controls arithmetic challenges.
type CaptchaConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// MaxOperand bounds both operands, which are drawn from [1, MaxOperand].
	MaxOperand  int
	RedisPrefix string

	// IssueLimit caps standalone issuance per client IP within IssueWindow.
	// Challenges issued by the login flow itself are not counted.
	IssueLimit  int
	IssueWindow time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP enrollment and verification.
type TwoFactorConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int

	// EnforceReplayProtection rejects a code whose time step is not newer
	// than the last accepted one.
	EnforceReplayProtection bool
	RequireCodeToDisable    bool

	SetupTTL          time.Duration
	SetupRedisPrefix  string
	TicketTTL         time.Duration
	TicketMaxAttempts int
	TicketRedisPrefix string

	BackupCodeCount        int
	BackupCodeLength       int
	BackupCodeLowWatermark int
	QRCodeSize             int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls the argon2id hasher.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	// AcceptLegacyBcrypt lets accounts imported with bcrypt hashes sign in.
	// With UpgradeOnLogin their hash is rewritten as argon2id on success.
	AcceptLegacyBcrypt bool
	UpgradeOnLogin     bool
}

// PasswordResetConfig controls out-of-band password recovery.
type PasswordResetConfig struct {
	Enabled             bool
	TTL                 time.Duration
	MaxAttempts         int
	RequestLimit        int
	RequestWindow       time.Duration
	RedisPrefix         string
	ClearLockoutOnReset bool
}

// StoreConfig bounds every call into the AccountStore.
type StoreConfig struct {
	OperationTimeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			SoftThreshold: 3,
			HardThreshold: 5,
			Duration:      15 * time.Minute,
			ShadowWindow:  24 * time.Hour,
			RedisPrefix:   "alk",
		},
		Captcha: CaptchaConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			MaxOperand:  10,
			RedisPrefix: "acp",
			IssueLimit:  30,
			IssueWindow: time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:                  "NeuroCheck",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			EnforceReplayProtection: false,
			RequireCodeToDisable:    true,
			SetupTTL:                10 * time.Minute,
			SetupRedisPrefix:        "a2s",
			TicketTTL:               5 * time.Minute,
			TicketMaxAttempts:       5,
			TicketRedisPrefix:       "a2t",
			BackupCodeCount:         10,
			BackupCodeLength:        10,
			BackupCodeLowWatermark:  2,
			QRCodeSize:              256,
		},
		Password: PasswordConfig{
			Memory:             65536,
			Time:               3,
			Parallelism:        2,
			SaltLength:         16,
			KeyLength:          32,
			MinLength:          8,
			AcceptLegacyBcrypt: true,
			UpgradeOnLogin:     true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:             true,
			TTL:                 30 * time.Minute,
			MaxAttempts:         5,
			RequestLimit:        3,
			RequestWindow:       15 * time.Minute,
			RedisPrefix:         "apr",
			ClearLockoutOnReset: true,
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Lockout
	if c.Lockout.SoftThreshold < 1 {
		return errors.New("Lockout SoftThreshold must be >= 1")
	}
	if c.Lockout.HardThreshold <= c.Lockout.SoftThreshold {
		return errors.New("Lockout HardThreshold must be > SoftThreshold")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.ShadowWindow < c.Lockout.Duration {
		return errors.New("Lockout ShadowWindow must be >= Duration")
	}

	// Captcha
	if c.Captcha.TTL <= 0 {
		return errors.New("Captcha TTL must be > 0")
	}
	if c.Captcha.MaxAttempts < 1 {
		return errors.New("Captcha MaxAttempts must be >= 1")
	}
	if c.Captcha.MaxOperand < 2 || c.Captcha.MaxOperand > 1000 {
		return errors.New("Captcha MaxOperand must be between 2 and 1000")
	}
	if c.Captcha.IssueLimit < 0 {
		return errors.New("Captcha IssueLimit must be >= 0")
	}
	if c.Captcha.IssueLimit > 0 && c.Captcha.IssueWindow <= 0 {
		return errors.New("Captcha IssueWindow must be > 0 when IssueLimit is set")
	}

	// Two-factor
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must be set")
	}
	if strings.Contains(c.TwoFactor.Issuer, ":") {
		return errors.New("TwoFactor Issuer cannot contain ':'")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("TwoFactor Skew must be between 0 and 3")
	}
	if c.TwoFactor.SetupTTL <= 0 {
		return errors.New("TwoFactor SetupTTL must be > 0")
	}
	if c.TwoFactor.TicketTTL <= 0 {
		return errors.New("TwoFactor TicketTTL must be > 0")
	}
	if c.TwoFactor.TicketMaxAttempts < 1 {
		return errors.New("TwoFactor TicketMaxAttempts must be >= 1")
	}
	if c.TwoFactor.BackupCodeCount < 1 || c.TwoFactor.BackupCodeCount > 32 {
		return errors.New("TwoFactor BackupCodeCount must be between 1 and 32")
	}
	if c.TwoFactor.BackupCodeLength < 8 {
		return errors.New("TwoFactor BackupCodeLength must be >= 8")
	}
	if c.TwoFactor.BackupCodeLowWatermark < 0 || c.TwoFactor.BackupCodeLowWatermark >= c.TwoFactor.BackupCodeCount {
		return errors.New("TwoFactor BackupCodeLowWatermark must be in [0, BackupCodeCount)")
	}
	if c.TwoFactor.QRCodeSize < 64 {
		return errors.New("TwoFactor QRCodeSize must be >= 64")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TTL <= 0 {
			return errors.New("PasswordReset TTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts < 1 {
			return errors.New("PasswordReset MaxAttempts must be >= 1")
		}
		if c.PasswordReset.RequestLimit < 1 || c.PasswordReset.RequestWindow <= 0 {
			return errors.New("PasswordReset RequestLimit and RequestWindow must be > 0")
		}
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
