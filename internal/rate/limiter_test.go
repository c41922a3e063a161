package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "rl")
}

func TestAllowEnforcesWindow(t *testing.T) {
	mr, l := newTestLimiter(t)
	ctx := context.Background()
	w := Window{Limit: 2, Period: time.Minute}

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "10.0.0.1", w); err != nil {
			t.Fatalf("hit %d: unexpected error %v", i, err)
		}
	}
	if err := l.Allow(ctx, "10.0.0.1", w); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, "10.0.0.2", w); err != nil {
		t.Fatalf("other subject should not be limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, "10.0.0.1", w); err != nil {
		t.Fatalf("expected new window after expiry, got %v", err)
	}
}

func TestAllowDisabled(t *testing.T) {
	_, l := newTestLimiter(t)
	for i := 0; i < 10; i++ {
		if err := l.Allow(context.Background(), "x", Window{}); err != nil {
			t.Fatalf("zero window must not limit: %v", err)
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Allow(context.Background(), "x", Window{Limit: 1, Period: time.Second}); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
}

func TestAllowRedisDown(t *testing.T) {
	mr, l := newTestLimiter(t)
	mr.Close()

	err := l.Allow(context.Background(), "x", Window{Limit: 1, Period: time.Second})
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
