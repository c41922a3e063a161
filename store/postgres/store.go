// Package postgres is an AccountStore backed by PostgreSQL through pgx.
//
// Failure counters and backup-code consumption are single statements, so
// concurrent logins against the same account never lose an update.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/neurocheck/authgate"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db DB
}

var _ authgate.AccountStore = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

const selectAccount = `
	SELECT a.id, a.email, a.password_hash, a.role, a.two_factor_state,
	       a.two_factor_secret, a.two_factor_last_counter, a.failed_logins,
	       a.locked_until, a.created_at, a.updated_at,
	       (SELECT count(*) FROM backup_codes b WHERE b.account_id = a.id)
	FROM accounts a
`

func (s *Store) GetByEmail(ctx context.Context, email string) (*authgate.Account, error) {
	return s.get(ctx, selectAccount+`WHERE a.email = $1`, strings.ToLower(email))
}

func (s *Store) GetByID(ctx context.Context, id string) (*authgate.Account, error) {
	return s.get(ctx, selectAccount+`WHERE a.id = $1`, id)
}

func (s *Store) get(ctx context.Context, query string, arg string) (*authgate.Account, error) {
	var (
		acc         authgate.Account
		role        string
		state       int16
		lockedUntil *time.Time
		backupCount int64
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &role, &state,
		&acc.TwoFactorSecret, &acc.TwoFactorLastCounter, &acc.FailedLogins,
		&lockedUntil, &acc.CreatedAt, &acc.UpdatedAt, &backupCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authgate.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	acc.Role = authgate.Role(role)
	acc.TwoFactorState = authgate.TwoFactorState(state)
	if lockedUntil != nil {
		acc.LockedUntil = *lockedUntil
	}
	acc.BackupCodesRemaining = int(backupCount)
	return &acc, nil
}

func (s *Store) Create(ctx context.Context, account *authgate.Account) error {
	if account == nil || account.ID == "" {
		return authgate.ErrInvalidInput
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, role, two_factor_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, strings.ToLower(account.Email), account.PasswordHash, string(account.Role),
		int16(account.TwoFactorState), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authgate.ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// IncrementFailedLogins reads the pre-update failed_logins inside SET, so
// the lock condition compares the incremented value.
func (s *Store) IncrementFailedLogins(ctx context.Context, id string, lockThreshold int, lockUntil time.Time) (int, time.Time, error) {
	var (
		failures    int
		lockedUntil *time.Time
	)
	err := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET failed_logins = failed_logins + 1,
		    locked_until = CASE WHEN $2 > 0 AND failed_logins + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_logins, locked_until
	`, id, lockThreshold, lockUntil).Scan(&failures, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, time.Time{}, authgate.ErrAccountNotFound
		}
		return 0, time.Time{}, fmt.Errorf("increment failed logins: %w", err)
	}
	if lockedUntil == nil {
		return failures, time.Time{}, nil
	}
	return failures, *lockedUntil, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string) error {
	return s.exec(ctx, "reset failed logins", `
		UPDATE accounts SET failed_logins = 0, locked_until = NULL, updated_at = now() WHERE id = $1
	`, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, "update password", `
		UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, hash)
}

func (s *Store) SetTwoFactorPending(ctx context.Context, id string) error {
	return s.exec(ctx, "set two-factor pending", `
		UPDATE accounts
		SET two_factor_state = CASE WHEN two_factor_state = $2 THEN two_factor_state ELSE $3 END,
		    updated_at = now()
		WHERE id = $1
	`, id, int16(authgate.TwoFactorEnabled), int16(authgate.TwoFactorPendingSetup))
}

func (s *Store) EnableTwoFactor(ctx context.Context, id string, secret []byte, codeHashes [][32]byte) error {
	return s.inTx(ctx, "enable two-factor", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET two_factor_state = $2, two_factor_secret = $3, two_factor_last_counter = 0, updated_at = now()
			WHERE id = $1
		`, id, int16(authgate.TwoFactorEnabled), secret)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authgate.ErrAccountNotFound
		}
		return replaceCodes(ctx, tx, id, codeHashes)
	})
}

func (s *Store) DisableTwoFactor(ctx context.Context, id string) error {
	return s.inTx(ctx, "disable two-factor", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET two_factor_state = $2, two_factor_secret = NULL, two_factor_last_counter = 0, updated_at = now()
			WHERE id = $1
		`, id, int16(authgate.TwoFactorDisabled))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authgate.ErrAccountNotFound
		}
		return replaceCodes(ctx, tx, id, nil)
	})
}

// AdvanceTwoFactorCounter moves the counter forward only. Concurrent
// callers with the same counter race on the row lock and exactly one sees
// a row affected.
func (s *Store) AdvanceTwoFactorCounter(ctx context.Context, id string, counter int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET two_factor_last_counter = $2, updated_at = now()
		WHERE id = $1 AND two_factor_last_counter < $2
	`, id, counter)
	if err != nil {
		return false, fmt.Errorf("advance two-factor counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codeHashes [][32]byte) error {
	return s.inTx(ctx, "replace backup codes", func(tx pgx.Tx) error {
		return replaceCodes(ctx, tx, id, codeHashes)
	})
}

// ConsumeBackupCode deletes and counts in one statement. The outer SELECT
// sees the table as it was before the DELETE, hence the subtraction.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (int, bool, error) {
	var consumed, remaining int64
	err := s.db.QueryRow(ctx, `
		WITH removed AS (
			DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2 RETURNING 1
		)
		SELECT (SELECT count(*) FROM removed),
		       (SELECT count(*) FROM backup_codes WHERE account_id = $1) - (SELECT count(*) FROM removed)
	`, id, hash[:]).Scan(&consumed, &remaining)
	if err != nil {
		return 0, false, fmt.Errorf("consume backup code: %w", err)
	}
	return int(remaining), consumed > 0, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		if errors.Is(err, authgate.ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func replaceCodes(ctx context.Context, tx pgx.Tx, id string, codeHashes [][32]byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, id); err != nil {
		return err
	}
	for _, h := range codeHashes {
		if _, err := tx.Exec(ctx, `INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2)`, id, h[:]); err != nil {
			return err
		}
	}
	return nil
}
