package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/database"
)

const (
	DefaultTxTimeout   = 10 * time.Second
	DefaultMaxAttempts = 3
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner executes queries written with `?` placeholders, rewriting them for
// the dialect and translating driver errors.
type runner struct {
	q       querier
	dialect database.Dialect
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, classify(r.dialect, err)
	}
	return res, nil
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, classify(r.dialect, err)
	}
	return rows, nil
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, rebind(r.dialect, query), args...)
}

// forUpdate returns the row locking clause for the dialect. SQLite has no
// row locks; its single writer connection gives the same guarantee.
func (r runner) forUpdate() string {
	if r.dialect == database.SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Tx is a transaction handle passed to repository methods ending in Tx.
// Callers never commit or roll it back themselves; Store.WithTx does.
type Tx struct {
	runner
}

// Store owns the connection pool and runs units of work in transactions.
type Store struct {
	db          *sql.DB
	dialect     database.Dialect
	timeout     time.Duration
	maxAttempts int
}

// Option customises a Store.
type Option func(*Store)

// WithTxTimeout bounds every transaction attempt.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxAttempts sets how many times a transaction is tried when it fails
// with a transient serialization error.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB, dialect database.Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, timeout: DefaultTxTimeout, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the backend dialect.
func (s *Store) Dialect() database.Dialect { return s.dialect }

func (s *Store) conn() runner { return runner{q: s.db, dialect: s.dialect} }

func (s *Store) txOptions() *sql.TxOptions {
	if s.dialect == database.SQLite {
		return nil
	}
	// row locks taken with FOR UPDATE serialise writers; READ COMMITTED
	// lets the statements after the lock see rows committed while waiting
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// WithTx runs fn inside a transaction. The transaction is committed when
// fn returns nil and rolled back otherwise. Transient conflicts (deadlocks,
// serialization failures, busy databases) are retried with a doubling
// backoff; any other error, including every business rule error, is
// returned as is after the rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	backoff := 20 * time.Millisecond
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		observeRetry(s.dialect)
		log.Debug().Err(err).Int("attempt", attempt).Msg("Retrying transaction after conflict")
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrTxAborted, s.maxAttempts, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, s.txOptions())
	if err != nil {
		return classify(s.dialect, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{runner: runner{q: sqlTx, dialect: s.dialect}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(s.dialect, err)
	}
	committed = true
	return nil
}

// rebind rewrites `?` placeholders into `$n` for Postgres.
func rebind(d database.Dialect, query string) string {
	if d != database.Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// scanErr maps sql.ErrNoRows onto ErrNotFound.
func scanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
