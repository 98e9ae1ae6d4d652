package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers "sqlite"
)

// NewPostgresRecordStore opens a Postgres or CockroachDB store using a DSN.
func NewPostgresRecordStore(dsn string, config *PostgresConfig) (*SQLRecordStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLRecordStore(db, DialectPostgres), nil
}

// NewSQLiteRecordStore opens a SQLite store at path. An empty path or
// ":memory:" opens a private in-memory database.
func NewSQLiteRecordStore(path string) (*SQLRecordStore, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to :memory: would get its own database, and
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return NewSQLRecordStore(db, DialectSQLite), nil
}

// Open creates the store named by driver: "memory", "postgres" (alias
// "cockroach") or "sqlite". SQL stores come back migrated when migrate is
// true.
func Open(ctx context.Context, driver, dsn string, pool *PostgresConfig, migrate bool) (RecordStore, error) {
	var store *SQLRecordStore
	var err error
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemoryRecordStore(), nil
	case "postgres", "cockroach":
		store, err = NewPostgresRecordStore(dsn, pool)
	case "sqlite":
		store, err = NewSQLiteRecordStore(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if migrate {
		migrator, err := NewMigrator(store.DB(), store.Dialect())
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if _, err := migrator.Up(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, nil
}
