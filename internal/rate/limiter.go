package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a request budget: at most Limit hits per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

// Limiter counts hits per subject under one key prefix.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(subject string) string {
	return l.prefix + ":" + subject
}

// Allow records a hit for subject and returns ErrRateLimited once the
// window budget is exceeded. A zero Limit disables the check.
func (l *Limiter) Allow(ctx context.Context, subject string, w Window) error {
	if l == nil || w.Limit <= 0 || subject == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.key(subject), w.Period)
	if err != nil {
		return err
	}
	if count > int64(w.Limit) {
		return ErrRateLimited
	}
	return nil
}

// incrementWithTTL bumps the counter; EXPIRE NX starts the window on the
// first hit only.
func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}
