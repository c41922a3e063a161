package authgate

import (
	"time"

	"github.com/neurocheck/authgate/internal/audit"
	"github.com/neurocheck/authgate/internal/limiters"
	"github.com/neurocheck/authgate/internal/stores"
	"github.com/neurocheck/authgate/password"
	"go.uber.org/zap"
)

// Engine runs the authentication state machine. Build one with New and
// share it; every method is safe for concurrent use.
type Engine struct {
	config Config
	store  AccountStore

	captcha        *captchaManager
	captchaLimiter *limiters.CaptchaIssueLimiter
	lockout        *lockoutTracker
	credentials    *credentialVerifier
	hasher         *password.Hasher
	totp           *totpManager

	setupStore   *stores.TwoFactorSetupStore
	ticketStore  *stores.LoginTicketStore
	resetStore   *stores.PasswordResetStore
	resetLimiter *limiters.ResetRequestLimiter

	sessions SessionIssuer
	notifier ResetNotifier

	logger  *zap.Logger
	audit   *audit.Dispatcher
	metrics *Metrics

	now func() time.Time
}

// Close drains queued audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped is the number of audit events discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.captcha != nil && e.lockout != nil &&
		e.credentials != nil && e.totp != nil && e.ticketStore != nil
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}
