package storage

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change. Files are named
// <id>.up.sql and <id>.down.sql under migrations/<dialect>.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the config_records migrations for one dialect.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
	now        func() time.Time
}

// NewMigrator creates a migrator backed by db.
func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations, now: time.Now}, nil
}

// Migrations returns the embedded migrations in order.
func (m *Migrator) Migrations() []Migration {
	return slices.Clone(m.migrations)
}

// Up applies pending migrations in order and returns the ids it applied.
// steps <= 0 applies everything pending.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	record := m.dialect.rebind(`INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`)
	var done []string
	for _, mig := range pending {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return done, fmt.Errorf("missing up migration for %s", mig.ID)
		}
		if err := m.exec(ctx, mig.UpSQL, record, mig.ID, m.now().UTC()); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", mig.ID, err)
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Down reverts the most recently applied migrations, newest first. At least
// one is reverted.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	steps = min(max(steps, 1), len(applied))

	forget := m.dialect.rebind(`DELETE FROM schema_migrations WHERE id = $1`)
	var done []string
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		id := applied[i].ID
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == id })
		if idx < 0 {
			return done, fmt.Errorf("migration %s not found", id)
		}
		mig := m.migrations[idx]
		if strings.TrimSpace(mig.DownSQL) == "" {
			return done, fmt.Errorf("missing down migration for %s", id)
		}
		if err := m.exec(ctx, mig.DownSQL, forget, id); err != nil {
			return done, fmt.Errorf("rollback migration %s: %w", id, err)
		}
		done = append(done, id)
	}
	return done, nil
}

// Status returns the applied migrations and the embedded ones not yet
// applied, creating schema_migrations first if needed.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		seen[a.ID] = struct{}{}
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := seen[mig.ID]; !ok {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	appliedAt := "TIMESTAMPTZ NOT NULL DEFAULT now()"
	if m.dialect == DialectSQLite {
		appliedAt = "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
	ddl := "CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at " + appliedAt + ")"
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// exec runs script and its schema_migrations bookkeeping in one transaction.
func (m *Migrator) exec(ctx context.Context, script, bookkeeping string, args ...any) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.ID, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema_migrations: %w", err)
	}
	return out, nil
}

func loadMigrations(dialect Dialect) ([]Migration, error) {
	paths, err := fs.Glob(migrationsFS, path.Join("migrations", string(dialect), "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	byID := map[string]*Migration{}
	for _, p := range paths {
		name := path.Base(p)
		id, up := strings.CutSuffix(name, ".up.sql")
		if !up {
			var down bool
			if id, down = strings.CutSuffix(name, ".down.sql"); !down {
				continue
			}
		}
		data, err := migrationsFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		mig := byID[id]
		if mig == nil {
			mig = &Migration{ID: id}
			byID[id] = mig
		}
		if up {
			mig.UpSQL = string(data)
		} else {
			mig.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byID))
	for _, mig := range byID {
		migrations = append(migrations, *mig)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.ID, b.ID) })
	return migrations, nil
}
