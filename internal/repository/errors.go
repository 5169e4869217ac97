// Package repository holds the SQL access layer. Sentinel errors defined
// here let the service layer tell a missing row from a uniqueness clash or
// a transient lock conflict without looking at driver types.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/iliyamo/checkin-credits/internal/database"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint,
// for example a second check-in for the same (event, user) pair or a
// statement reusing a payment id.
var ErrConflict = errors.New("conflict")

// ErrBalanceUnderflow is returned by conditional balance updates when the
// pool does not hold enough credits. Nothing was written.
var ErrBalanceUnderflow = errors.New("balance underflow")

// ErrTxAborted wraps the last error of a transaction that kept failing
// with transient conflicts.
var ErrTxAborted = errors.New("transaction aborted")

// errTransient marks deadlocks, serialization failures and busy databases.
var errTransient = errors.New("transient conflict")

// IsRetryable reports whether the whole transaction may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, errTransient)
}

// classify wraps driver errors with the sentinels above while keeping the
// original error in the chain.
func classify(d database.Dialect, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isUniqueViolation(d, err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case isTransient(d, err):
		return fmt.Errorf("%w: %w", errTransient, err)
	}
	return err
}

func isUniqueViolation(d database.Dialect, err error) bool {
	switch d {
	case database.MySQL:
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062
	case database.Postgres:
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == "23505"
	case database.SQLite:
		var se *sqlite.Error
		// SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return errors.As(err, &se) && (se.Code() == 2067 || se.Code() == 1555)
	}
	return false
}

func isTransient(d database.Dialect, err error) bool {
	switch d {
	case database.MySQL:
		var me *mysql.MySQLError
		// deadlock found, lock wait timeout
		return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
	case database.Postgres:
		var pe *pgconn.PgError
		// serialization_failure, deadlock_detected
		return errors.As(err, &pe) && (pe.Code == "40001" || pe.Code == "40P01")
	case database.SQLite:
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		// SQLITE_BUSY, SQLITE_LOCKED and their extended codes
		primary := se.Code() & 0xff
		return primary == 5 || primary == 6
	}
	return false
}
