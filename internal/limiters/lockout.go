package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig mirrors the account lockout thresholds.
type LockoutConfig struct {
	SoftThreshold int
	HardThreshold int
	Duration      time.Duration
	// Window is how long a failure counter survives without new failures.
	Window time.Duration
	Prefix string
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// ShadowState is the lockout view of one identifier.
type ShadowState struct {
	Failures   int
	RetryAfter time.Duration
}

// Locked reports whether a lock is in force.
func (s ShadowState) Locked() bool { return s.RetryAfter > 0 }

// ShadowLockout tracks failed logins for identifiers that do not resolve
// to an account.
type ShadowLockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewShadowLockout creates a new shadow lockout limiter.
func NewShadowLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *ShadowLockout {
	if cfg.Prefix == "" {
		cfg.Prefix = "alk"
	}
	return &ShadowLockout{redis: redisClient, config: cfg}
}

func (l *ShadowLockout) countKey(subject string) string {
	return l.config.Prefix + ":n:" + subject
}

func (l *ShadowLockout) lockKey(subject string) string {
	return l.config.Prefix + ":l:" + subject
}

// State returns the failure count and remaining lock for subject.
func (l *ShadowLockout) State(ctx context.Context, subject string) (ShadowState, error) {
	if l == nil || subject == "" {
		return ShadowState{}, nil
	}

	pipe := l.redis.Pipeline()
	countCmd := pipe.Get(ctx, l.countKey(subject))
	ttlCmd := pipe.PTTL(ctx, l.lockKey(subject))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ShadowState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	var state ShadowState
	if n, err := countCmd.Int(); err == nil {
		state.Failures = n
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		state.RetryAfter = ttl
	}
	return state, nil
}

// RecordFailure increments the failure counter and starts a lock once
// HardThreshold is reached. The counter window is refreshed on every failure.
func (l *ShadowLockout) RecordFailure(ctx context.Context, subject string) (ShadowState, error) {
	if l == nil || subject == "" {
		return ShadowState{}, nil
	}

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, l.countKey(subject))
	pipe.Expire(ctx, l.countKey(subject), l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return ShadowState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	state := ShadowState{Failures: int(incr.Val())}
	if state.Failures >= l.config.HardThreshold {
		if err := l.redis.SetNX(ctx, l.lockKey(subject), 1, l.config.Duration).Err(); err != nil {
			return ShadowState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		state.RetryAfter = l.config.Duration
	}
	return state, nil
}

// Reset clears both the counter and any lock for subject.
func (l *ShadowLockout) Reset(ctx context.Context, subject string) error {
	if l == nil || subject == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.countKey(subject), l.lockKey(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
