package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrations embed.FS

func (d Dialect) gooseDialect() goose.Dialect {
	switch d {
	case Postgres:
		return goose.DialectPostgres
	case SQLite:
		return goose.DialectSQLite3
	default:
		return goose.DialectMySQL
	}
}

// Migrate applies every pending migration for the dialect. It is safe to
// call on an up to date schema.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", dialect, err)
	}
	provider, err := goose.NewProvider(dialect.gooseDialect(), db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info().
			Str("dialect", string(dialect)).
			Int64("version", r.Source.Version).
			Dur("took", r.Duration).
			Msg("Migration applied")
	}
	return nil
}
