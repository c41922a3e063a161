package limiters

import (
	"context"
	"time"

	"github.com/neurocheck/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

// ResetRequestLimiter caps reset emails per address.
type ResetRequestLimiter struct {
	limiter *rate.Limiter
	window  rate.Window
}

func NewResetRequestLimiter(redisClient redis.UniversalClient, limit int, period time.Duration) *ResetRequestLimiter {
	if limit <= 0 {
		return nil
	}
	return &ResetRequestLimiter{
		limiter: rate.New(redisClient, "aprr"),
		window:  rate.Window{Limit: limit, Period: period},
	}
}

func (l *ResetRequestLimiter) Allow(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.limiter.Allow(ctx, email, l.window)
}
