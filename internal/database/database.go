package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour behind a DB handle
type Dialect string

// Supported dialects
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Connection pool configuration
const (
	SQLiteMaxOpenConns      = 10
	SQLiteMaxIdleConns      = 5
	PostgresMaxOpenConns    = 25
	PostgresMaxIdleConns    = 25
	PostgresConnMaxLifetime = 5 * time.Minute
)

// Config holds database configuration
type Config struct {
	Driver string // "sqlite" or "postgres"
	Path   string // sqlite file path
	URL    string // postgres DSN
}

// DB is a *sql.DB tagged with its dialect
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens and pings the database described by cfg
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch Dialect(strings.ToLower(cfg.Driver)) {
	case DialectSQLite, "":
		return openSQLite(ctx, cfg.Path)
	case DialectPostgres:
		return openPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path not set")
	}

	// Pragmas go through the DSN so every pooled connection gets them
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(SQLiteMaxOpenConns)
	db.SetMaxIdleConns(SQLiteMaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.Info("Database initialized", "driver", DialectSQLite, "path", path)
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

func openPostgres(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(PostgresMaxOpenConns)
	db.SetMaxIdleConns(PostgresMaxIdleConns)
	db.SetConnMaxLifetime(PostgresConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	slog.Info("Database initialized", "driver", DialectPostgres)
	return &DB{DB: db, Dialect: DialectPostgres}, nil
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
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

// Rebind rewrites a query for this handle's dialect
func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
