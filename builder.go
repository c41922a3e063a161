package authgate

import (
	"errors"
	"time"

	"github.com/neurocheck/authgate/internal/audit"
	"github.com/neurocheck/authgate/internal/limiters"
	"github.com/neurocheck/authgate/internal/stores"
	"github.com/neurocheck/authgate/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  AccountStore

	sessions  SessionIssuer
	notifier  ResetNotifier
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for challenges, tickets, reset records and
// rate limits. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the persistent account store. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.store = store
	return b
}

// WithSessionIssuer sets what mints the session token after a full login.
// Without one, Login succeeds with an empty SessionToken.
func (b *Builder) WithSessionIssuer(issuer SessionIssuer) *Builder {
	b.sessions = issuer
	return b
}

// WithResetNotifier sets the delivery channel for password reset tokens.
// Required when PasswordReset is enabled.
func (b *Builder) WithResetNotifier(notifier ResetNotifier) *Builder {
	b.notifier = notifier
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PasswordReset.Enabled && b.notifier == nil {
		return nil, errors.New("PasswordReset requires a reset notifier")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("authgate")

	hasher, err := password.New(password.Config{
		Memory:       cfg.Password.Memory,
		Time:         cfg.Password.Time,
		Parallelism:  cfg.Password.Parallelism,
		SaltLength:   cfg.Password.SaltLength,
		KeyLength:    cfg.Password.KeyLength,
		AcceptBcrypt: cfg.Password.AcceptLegacyBcrypt,
	})
	if err != nil {
		return nil, err
	}

	// -------- ACCOUNT STORE --------
	store := newGuardedStore(b.store, cfg.Store.OperationTimeout)

	// -------- REDIS-BACKED STATE --------
	shadow := limiters.NewShadowLockout(b.redis, limiters.LockoutConfig{
		SoftThreshold: cfg.Lockout.SoftThreshold,
		HardThreshold: cfg.Lockout.HardThreshold,
		Duration:      cfg.Lockout.Duration,
		Window:        cfg.Lockout.ShadowWindow,
		Prefix:        cfg.Lockout.RedisPrefix,
	})

	engine := &Engine{
		config:         cfg,
		store:          store,
		captcha:        newCaptchaManager(cfg.Captcha, stores.NewCaptchaStore(b.redis, cfg.Captcha.RedisPrefix)),
		captchaLimiter: limiters.NewCaptchaIssueLimiter(b.redis, cfg.Captcha.IssueLimit, cfg.Captcha.IssueWindow),
		lockout:        newLockoutTracker(cfg.Lockout, store, shadow),
		credentials:    newCredentialVerifier(cfg.Password, store, hasher, logger),
		hasher:         hasher,
		totp:           newTOTPManager(cfg.TwoFactor),
		setupStore:     stores.NewTwoFactorSetupStore(b.redis, cfg.TwoFactor.SetupRedisPrefix),
		ticketStore:    stores.NewLoginTicketStore(b.redis, cfg.TwoFactor.TicketRedisPrefix),
		resetStore:     stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		sessions:       b.sessions,
		notifier:       b.notifier,
		logger:         logger,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}
	if cfg.PasswordReset.Enabled {
		engine.resetLimiter = limiters.NewResetRequestLimiter(b.redis, cfg.PasswordReset.RequestLimit, cfg.PasswordReset.RequestWindow)
	}

	b.built = true
	return engine, nil
}
