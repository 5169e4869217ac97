package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend. It controls placeholder syntax,
// row locking and error classification in the repository layer.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect normalises a configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// Options describes how to reach the database. DSN wins when set;
// otherwise a MySQL DSN is assembled from the discrete fields.
type Options struct {
	Dialect Dialect
	DSN     string
	User    string
	Pass    string
	Host    string
	Port    string
	Name    string
}

// Open connects to the configured database and verifies the connection.
func Open(opts Options) (*sql.DB, error) {
	dsn := opts.DSN
	if dsn == "" {
		if opts.Dialect != MySQL {
			return nil, fmt.Errorf("%s requires DB_DSN", opts.Dialect)
		}
		dsn = mysqlDSN(opts)
	}
	if opts.Dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(opts.Dialect.driverName(), dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	if opts.Dialect == SQLite {
		// a single connection serialises writers, SQLite has no row locks
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func mysqlDSN(opts Options) string {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Pass
	cfg.Net = "tcp"
	cfg.Addr = opts.Host + ":" + opts.Port
	cfg.DBName = opts.Name
	cfg.Loc = time.UTC
	cfg.ParseTime = true
	// conditional updates rely on matched rather than changed row counts
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()
}
