// Package memory is an in-process AccountStore for tests and single-node
// development servers. State is lost on restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/neurocheck/authgate"
)

type record struct {
	account authgate.Account
	backup  map[[32]byte]struct{}
}

// Store keeps accounts behind a single mutex. Every method copies in and
// out so callers never share memory with the store.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*record
	byEmail map[string]string
	now     func() time.Time
}

var _ authgate.AccountStore = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:    make(map[string]*record),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) GetByEmail(_ context.Context, email string) (*authgate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, authgate.ErrAccountNotFound
	}
	return s.byID[id].snapshot(), nil
}

func (s *Store) GetByID(_ context.Context, id string) (*authgate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, authgate.ErrAccountNotFound
	}
	return rec.snapshot(), nil
}

func (s *Store) Create(_ context.Context, account *authgate.Account) error {
	if account == nil || account.ID == "" {
		return authgate.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return authgate.ErrAccountExists
	}
	if _, exists := s.byID[account.ID]; exists {
		return authgate.ErrAccountExists
	}

	stored := *account
	stored.Email = email
	stored.TwoFactorSecret = cloneBytes(account.TwoFactorSecret)
	stored.BackupCodesRemaining = 0
	s.byID[account.ID] = &record{account: stored, backup: make(map[[32]byte]struct{})}
	s.byEmail[email] = account.ID
	return nil
}

func (s *Store) IncrementFailedLogins(_ context.Context, id string, lockThreshold int, lockUntil time.Time) (int, time.Time, error) {
	var (
		failures    int
		lockedUntil time.Time
	)
	err := s.update(id, func(rec *record) {
		rec.account.FailedLogins++
		if lockThreshold > 0 && rec.account.FailedLogins >= lockThreshold {
			rec.account.LockedUntil = lockUntil
		}
		failures = rec.account.FailedLogins
		lockedUntil = rec.account.LockedUntil
	})
	return failures, lockedUntil, err
}

func (s *Store) ResetFailedLogins(_ context.Context, id string) error {
	return s.update(id, func(rec *record) {
		rec.account.FailedLogins = 0
		rec.account.LockedUntil = time.Time{}
	})
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(rec *record) {
		rec.account.PasswordHash = hash
	})
}

func (s *Store) SetTwoFactorPending(_ context.Context, id string) error {
	return s.update(id, func(rec *record) {
		if rec.account.TwoFactorState != authgate.TwoFactorEnabled {
			rec.account.TwoFactorState = authgate.TwoFactorPendingSetup
		}
	})
}

func (s *Store) EnableTwoFactor(_ context.Context, id string, secret []byte, codeHashes [][32]byte) error {
	return s.update(id, func(rec *record) {
		rec.account.TwoFactorState = authgate.TwoFactorEnabled
		rec.account.TwoFactorSecret = cloneBytes(secret)
		rec.account.TwoFactorLastCounter = 0
		rec.replaceBackup(codeHashes)
	})
}

func (s *Store) DisableTwoFactor(_ context.Context, id string) error {
	return s.update(id, func(rec *record) {
		rec.account.TwoFactorState = authgate.TwoFactorDisabled
		rec.account.TwoFactorSecret = nil
		rec.account.TwoFactorLastCounter = 0
		rec.replaceBackup(nil)
	})
}

func (s *Store) AdvanceTwoFactorCounter(_ context.Context, id string, counter int64) (bool, error) {
	var advanced bool
	err := s.update(id, func(rec *record) {
		if counter > rec.account.TwoFactorLastCounter {
			rec.account.TwoFactorLastCounter = counter
			advanced = true
		}
	})
	return advanced, err
}

func (s *Store) ReplaceBackupCodes(_ context.Context, id string, codeHashes [][32]byte) error {
	return s.update(id, func(rec *record) {
		rec.replaceBackup(codeHashes)
	})
}

func (s *Store) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (int, bool, error) {
	var (
		remaining int
		ok        bool
	)
	err := s.update(id, func(rec *record) {
		if _, ok = rec.backup[hash]; ok {
			delete(rec.backup, hash)
		}
		remaining = len(rec.backup)
	})
	return remaining, ok, err
}

func (s *Store) update(id string, fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	fn(rec)
	rec.account.UpdatedAt = s.now().UTC()
	return nil
}

func (r *record) replaceBackup(hashes [][32]byte) {
	r.backup = make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		r.backup[h] = struct{}{}
	}
}

func (r *record) snapshot() *authgate.Account {
	out := r.account
	out.TwoFactorSecret = cloneBytes(r.account.TwoFactorSecret)
	out.BackupCodesRemaining = len(r.backup)
	return &out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
