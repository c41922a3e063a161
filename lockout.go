package authgate

import (
	"context"
	"time"

	"github.com/neurocheck/authgate/internal/limiters"
)

// lockoutTracker owns the failure counter and lockout deadline of an
// account. Identifiers without an account are tracked by the shadow
// limiter under the same thresholds.
type lockoutTracker struct {
	config LockoutConfig
	store  AccountStore
	shadow *limiters.ShadowLockout
}

func newLockoutTracker(cfg LockoutConfig, store AccountStore, shadow *limiters.ShadowLockout) *lockoutTracker {
	return &lockoutTracker{config: cfg, store: store, shadow: shadow}
}

func (t *lockoutTracker) checkLockout(account *Account, now time.Time) error {
	if account.LockedUntil.IsZero() || !now.Before(account.LockedUntil) {
		return nil
	}
	return &LockoutError{RetryAfter: account.LockedUntil.Sub(now)}
}

// requiresCaptcha stays true after a lock lapses; only a full success
// clears the counter.
func (t *lockoutTracker) requiresCaptcha(account *Account) bool {
	return account.FailedLogins >= t.config.SoftThreshold
}

// recordFailure is a single atomic increment in the store. The account
// copy is refreshed with the stored result.
func (t *lockoutTracker) recordFailure(ctx context.Context, account *Account, now time.Time) (bool, error) {
	failures, lockedUntil, err := t.store.IncrementFailedLogins(ctx, account.ID, t.config.HardThreshold, now.Add(t.config.Duration))
	if err != nil {
		return false, err
	}

	lockedNow := failures >= t.config.HardThreshold && lockedUntil.After(now) && !lockedUntil.Equal(account.LockedUntil)
	account.FailedLogins = failures
	account.LockedUntil = lockedUntil
	return lockedNow, nil
}

func (t *lockoutTracker) recordSuccess(ctx context.Context, account *Account) error {
	if err := t.store.ResetFailedLogins(ctx, account.ID); err != nil {
		return err
	}
	account.FailedLogins = 0
	account.LockedUntil = time.Time{}
	return nil
}

func (t *lockoutTracker) shadowState(ctx context.Context, email string) (limiters.ShadowState, error) {
	state, err := t.shadow.State(ctx, email)
	if err != nil {
		return state, unavailable(err)
	}
	return state, nil
}

func (t *lockoutTracker) recordShadowFailure(ctx context.Context, email string) (limiters.ShadowState, error) {
	state, err := t.shadow.RecordFailure(ctx, email)
	if err != nil {
		return state, unavailable(err)
	}
	return state, nil
}

func (t *lockoutTracker) resetShadow(ctx context.Context, email string) error {
	if err := t.shadow.Reset(ctx, email); err != nil {
		return unavailable(err)
	}
	return nil
}
