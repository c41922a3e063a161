package postgres_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/store/postgres"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{
	"id", "email", "password_hash", "role", "two_factor_state",
	"two_factor_secret", "two_factor_last_counter", "failed_logins",
	"locked_until", "created_at", "updated_at", "count",
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *postgres.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, postgres.New(mock)
}

func TestGetByEmail(t *testing.T) {
	mock, store := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()
	locked := now.Add(10 * time.Minute)

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE a.email = $1")).
			WithArgs("doctor@clinic.test").
			WillReturnRows(pgxmock.NewRows(accountColumns).AddRow(
				"acc-1", "doctor@clinic.test", "hash", "doctor", int16(2),
				[]byte("secret"), int64(42), 5,
				&locked, now, now, int64(7),
			))

		acc, err := store.GetByEmail(ctx, "Doctor@Clinic.test")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", acc.ID)
		assert.Equal(t, authgate.RoleDoctor, acc.Role)
		assert.Equal(t, authgate.TwoFactorEnabled, acc.TwoFactorState)
		assert.Equal(t, int64(42), acc.TwoFactorLastCounter)
		assert.Equal(t, 5, acc.FailedLogins)
		assert.True(t, acc.LockedUntil.Equal(locked))
		assert.Equal(t, 7, acc.BackupCodesRemaining)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE a.email = $1")).
			WithArgs("ghost@clinic.test").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.GetByEmail(ctx, "ghost@clinic.test")
		assert.ErrorIs(t, err, authgate.ErrAccountNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE a.email = $1")).
			WithArgs("doctor@clinic.test").
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetByEmail(ctx, "doctor@clinic.test")
		require.Error(t, err)
		assert.NotErrorIs(t, err, authgate.ErrAccountNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	mock, store := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acc := &authgate.Account{ID: "acc-1", Email: "Staff@Clinic.test", PasswordHash: "hash", Role: authgate.RoleStaff, CreatedAt: now, UpdatedAt: now}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WithArgs("acc-1", "staff@clinic.test", "hash", "staff", int16(0), now, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Create(ctx, acc))
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WithArgs("acc-1", "staff@clinic.test", "hash", "staff", int16(0), now, now).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		assert.ErrorIs(t, store.Create(ctx, acc), authgate.ErrAccountExists)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementFailedLogins(t *testing.T) {
	mock, store := newMock(t)
	ctx := context.Background()
	until := time.Now().Add(15 * time.Minute).UTC()

	t.Run("below threshold", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SET failed_logins = failed_logins + 1")).
			WithArgs("acc-1", 5, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_logins", "locked_until"}).AddRow(3, nil))

		n, locked, err := store.IncrementFailedLogins(ctx, "acc-1", 5, until)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.True(t, locked.IsZero())
	})

	t.Run("reaches threshold", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SET failed_logins = failed_logins + 1")).
			WithArgs("acc-1", 5, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_logins", "locked_until"}).AddRow(5, &until))

		n, locked, err := store.IncrementFailedLogins(ctx, "acc-1", 5, until)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.True(t, locked.Equal(until))
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SET failed_logins = failed_logins + 1")).
			WithArgs("missing", 5, until).
			WillReturnError(pgx.ErrNoRows)

		_, _, err := store.IncrementFailedLogins(ctx, "missing", 5, until)
		assert.ErrorIs(t, err, authgate.ErrAccountNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetFailedLoginsUnknownAccount(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET failed_logins = 0, locked_until = NULL")).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, store.ResetFailedLogins(context.Background(), "missing"), authgate.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnableTwoFactorReplacesCodesInTransaction(t *testing.T) {
	mock, store := newMock(t)
	a := sha256.Sum256([]byte("AAAAA-AAAAA"))
	b := sha256.Sum256([]byte("BBBBB-BBBBB"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET two_factor_state = $2, two_factor_secret = $3")).
		WithArgs("acc-1", int16(authgate.TwoFactorEnabled), []byte("secret")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM backup_codes WHERE account_id = $1")).
		WithArgs("acc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO backup_codes")).
		WithArgs("acc-1", a[:]).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO backup_codes")).
		WithArgs("acc-1", b[:]).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.EnableTwoFactor(context.Background(), "acc-1", []byte("secret"), [][32]byte{a, b}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnableTwoFactorRollsBackOnFailure(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET two_factor_state = $2, two_factor_secret = $3")).
		WithArgs("acc-1", int16(authgate.TwoFactorEnabled), []byte("secret")).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.EnableTwoFactor(context.Background(), "acc-1", []byte("secret"), nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeBackupCode(t *testing.T) {
	mock, store := newMock(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("AAAAA-AAAAA"))

	mock.ExpectQuery(regexp.QuoteMeta("WITH removed AS")).
		WithArgs("acc-1", hash[:]).
		WillReturnRows(pgxmock.NewRows([]string{"consumed", "remaining"}).AddRow(int64(1), int64(9)))
	remaining, ok, err := store.ConsumeBackupCode(ctx, "acc-1", hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, remaining)

	mock.ExpectQuery(regexp.QuoteMeta("WITH removed AS")).
		WithArgs("acc-1", hash[:]).
		WillReturnRows(pgxmock.NewRows([]string{"consumed", "remaining"}).AddRow(int64(0), int64(9)))
	remaining, ok, err = store.ConsumeBackupCode(ctx, "acc-1", hash)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 9, remaining)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceTwoFactorCounterIsCompareAndSet(t *testing.T) {
	mock, store := newMock(t)
	query := regexp.QuoteMeta("WHERE id = $1 AND two_factor_last_counter < $2")

	mock.ExpectExec(query).
		WithArgs("acc-1", int64(57000000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(query).
		WithArgs("acc-1", int64(57000000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	advanced, err := store.AdvanceTwoFactorCounter(context.Background(), "acc-1", 57000000)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = store.AdvanceTwoFactorCounter(context.Background(), "acc-1", 57000000)
	require.NoError(t, err)
	assert.False(t, advanced, "same counter twice must not advance")
	require.NoError(t, mock.ExpectationsWereMet())
}
