package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/database/dbtest"
	"github.com/iliyamo/checkin-credits/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbtest.Open(t), database.SQLite)
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM users WHERE id = ? AND email = ?"
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND email = $2", rebind(database.Postgres, q))
	assert.Equal(t, q, rebind(database.MySQL, q))
	assert.Equal(t, q, rebind(database.SQLite, q))
	assert.Equal(t, "SELECT 1", rebind(database.Postgres, "SELECT 1"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		dialect   database.Dialect
		err       error
		conflict  bool
		retryable bool
	}{
		{"mysql duplicate", database.MySQL, &mysql.MySQLError{Number: 1062}, true, false},
		{"mysql deadlock", database.MySQL, &mysql.MySQLError{Number: 1213}, false, true},
		{"mysql lock wait", database.MySQL, &mysql.MySQLError{Number: 1205}, false, true},
		{"mysql other", database.MySQL, &mysql.MySQLError{Number: 1146}, false, false},
		{"pg unique", database.Postgres, &pgconn.PgError{Code: "23505"}, true, false},
		{"pg serialization", database.Postgres, &pgconn.PgError{Code: "40001"}, false, true},
		{"pg deadlock", database.Postgres, &pgconn.PgError{Code: "40P01"}, false, true},
		{"wrapped pg", database.Postgres, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), true, false},
		{"plain", database.SQLite, errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.dialect, tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, ErrConflict))
			assert.Equal(t, tt.retryable, IsRetryable(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, classify(database.MySQL, nil))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	users := NewUserRepo(s)
	u := &model.User{Email: "rollback@example.com"}
	require.NoError(t, users.Create(ctx, u))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := users.AdjustPoolTx(ctx, tx, u.ID, model.CheckInTypeFree, 5, u.CreatedAt); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FreeCheckInsQuantity)
	assert.Zero(t, got.CheckInsQuantity)
}

func TestWithTxRetriesTransientErrors(t *testing.T) {
	s := newTestStore(t)
	attempts := 0
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: busy", errTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	s := NewStore(dbtest.Open(t), database.SQLite, WithMaxAttempts(2))
	attempts := 0
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		attempts++
		return fmt.Errorf("%w: busy", errTransient)
	})
	require.ErrorIs(t, err, ErrTxAborted)
	assert.Equal(t, 2, attempts)
}
