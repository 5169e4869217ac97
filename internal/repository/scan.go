package repository

import (
	"database/sql"
	"time"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/metrics"
)

// Timestamps are stored as epoch milliseconds in every dialect so ordering
// and comparisons behave the same on MySQL, Postgres and SQLite.

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func observeRetry(d database.Dialect) {
	metrics.TxRetriesTotal.WithLabelValues(string(d)).Inc()
}
