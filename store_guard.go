package authgate

import (
	"context"
	"errors"
	"time"
)

// guardedStore bounds every AccountStore call by a timeout and folds any
// failure other than not-found or duplicate into ErrUnavailable.
type guardedStore struct {
	inner   AccountStore
	timeout time.Duration
}

func newGuardedStore(inner AccountStore, timeout time.Duration) *guardedStore {
	return &guardedStore{inner: inner, timeout: timeout}
}

func (s *guardedStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountExists):
		return err
	case errors.Is(err, ErrUnavailable):
		return err
	default:
		return unavailable(err)
	}
}

func (s *guardedStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	a, err := s.inner.GetByEmail(ctx, email)
	return a, storeErr(err)
}

func (s *guardedStore) GetByID(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	a, err := s.inner.GetByID(ctx, id)
	return a, storeErr(err)
}

func (s *guardedStore) Create(ctx context.Context, account *Account) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.Create(ctx, account))
}

func (s *guardedStore) IncrementFailedLogins(ctx context.Context, id string, lockThreshold int, lockUntil time.Time) (int, time.Time, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, until, err := s.inner.IncrementFailedLogins(ctx, id, lockThreshold, lockUntil)
	return n, until, storeErr(err)
}

func (s *guardedStore) ResetFailedLogins(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.ResetFailedLogins(ctx, id))
}

func (s *guardedStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.UpdatePasswordHash(ctx, id, hash))
}

func (s *guardedStore) SetTwoFactorPending(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.SetTwoFactorPending(ctx, id))
}

func (s *guardedStore) EnableTwoFactor(ctx context.Context, id string, secret []byte, codeHashes [][32]byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.EnableTwoFactor(ctx, id, secret, codeHashes))
}

func (s *guardedStore) DisableTwoFactor(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.DisableTwoFactor(ctx, id))
}

func (s *guardedStore) AdvanceTwoFactorCounter(ctx context.Context, id string, counter int64) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	advanced, err := s.inner.AdvanceTwoFactorCounter(ctx, id, counter)
	return advanced, storeErr(err)
}

func (s *guardedStore) ReplaceBackupCodes(ctx context.Context, id string, codeHashes [][32]byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return storeErr(s.inner.ReplaceBackupCodes(ctx, id, codeHashes))
}

func (s *guardedStore) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (int, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, ok, err := s.inner.ConsumeBackupCode(ctx, id, hash)
	return n, ok, storeErr(err)
}
