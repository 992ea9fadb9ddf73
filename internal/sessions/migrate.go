package sessions

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change, named NNN_description.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the embedded schema migrations. The SQL is written to
// run unchanged on both sqlite and postgres.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

// NewMigrator returns a migrator for db. It does not touch the database.
func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations}, nil
}

// EnsureSchema creates the bookkeeping table when missing.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies pending migrations in ID order, at most steps of them when
// steps > 0. It returns the IDs applied before any failure.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	done, err := m.appliedMigrationIDs(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if !done[mig.ID] {
			pending = append(pending, mig)
		}
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	applied := make([]string, 0, len(pending))
	record := m.dialect.rebind(`INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`)
	for _, mig := range pending {
		err := m.step(ctx, "apply", mig.ID, mig.UpSQL, record, mig.ID, time.Now().UnixNano())
		if err != nil {
			return applied, err
		}
		applied = append(applied, mig.ID)
	}
	return applied, nil
}

// Down reverts the most recently applied migrations, one when steps <= 0.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrationList(ctx)
	if err != nil {
		return nil, err
	}

	var reverted []string
	forget := m.dialect.rebind(`DELETE FROM schema_migrations WHERE id = ?`)
	for i := len(applied) - 1; i >= 0 && len(reverted) < steps; i-- {
		id := applied[i].ID
		mig, ok := m.migrationByID(id)
		if !ok {
			return reverted, fmt.Errorf("migration %s is applied but not embedded", id)
		}
		if err := m.step(ctx, "revert", id, mig.DownSQL, forget, id); err != nil {
			return reverted, err
		}
		reverted = append(reverted, id)
	}
	return reverted, nil
}

// step runs one migration script and its bookkeeping statement in a single
// transaction.
func (m *Migrator) step(ctx context.Context, verb, id, script, bookkeeping string, args ...any) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("%s migration %s: no SQL", verb, id)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s migration %s: begin: %w", verb, id, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s migration %s: %w", verb, id, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s migration %s: bookkeeping: %w", verb, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s migration %s: commit: %w", verb, id, err)
	}
	return nil
}

// Status reports applied migrations and those still pending.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.appliedMigrationList(ctx)
	if err != nil {
		return nil, nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		isApplied := slices.ContainsFunc(applied, func(a AppliedMigration) bool { return a.ID == mig.ID })
		if !isApplied {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) appliedMigrationIDs(ctx context.Context) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := m.scanMigrations(ctx, `SELECT id FROM schema_migrations`, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids[id] = true
		return nil
	})
	return ids, err
}

func (m *Migrator) appliedMigrationList(ctx context.Context) ([]AppliedMigration, error) {
	var list []AppliedMigration
	err := m.scanMigrations(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`, func(rows *sql.Rows) error {
		var (
			id string
			at int64
		)
		if err := rows.Scan(&id, &at); err != nil {
			return err
		}
		list = append(list, AppliedMigration{ID: id, AppliedAt: time.Unix(0, at)})
		return nil
	})
	return list, err
}

func (m *Migrator) scanMigrations(ctx context.Context, query string, each func(*sql.Rows) error) error {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows); err != nil {
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) migrationByID(id string) (Migration, bool) {
	i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == id })
	if i < 0 {
		return Migration{}, false
	}
	return m.migrations[i], true
}

// loadMigrations pairs the embedded NNN_name.up.sql and NNN_name.down.sql
// files, sorted by ID.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byID := make(map[string]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		id, direction, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), ".")
		if !ok || (direction != "up" && direction != "down") {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		mig := byID[id]
		if mig == nil {
			mig = &Migration{ID: id}
			byID[id] = mig
		}
		if direction == "up" {
			mig.UpSQL = string(data)
		} else {
			mig.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byID))
	for _, mig := range byID {
		migrations = append(migrations, *mig)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.ID, b.ID) })
	return migrations, nil
}
