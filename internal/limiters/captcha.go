package limiters

import (
	"context"
	"time"

	"github.com/neurocheck/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

// CaptchaIssueLimiter caps how many challenges a client IP may request.
type CaptchaIssueLimiter struct {
	limiter *rate.Limiter
	window  rate.Window
}

func NewCaptchaIssueLimiter(redisClient redis.UniversalClient, limit int, period time.Duration) *CaptchaIssueLimiter {
	if limit <= 0 {
		return nil
	}
	return &CaptchaIssueLimiter{
		limiter: rate.New(redisClient, "acpi"),
		window:  rate.Window{Limit: limit, Period: period},
	}
}

// Allow returns rate.ErrRateLimited once ip exceeds its budget. Requests
// without an IP are not counted.
func (l *CaptchaIssueLimiter) Allow(ctx context.Context, ip string) error {
	if l == nil {
		return nil
	}
	return l.limiter.Allow(ctx, ip, l.window)
}
