// Package dbtest opens throwaway migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/database"
)

// Open returns a migrated SQLite database in t.TempDir(). It is closed
// when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Dialect: database.SQLite,
		DSN:     filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))
	return db
}
