package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Dialect selects the SQL flavour hooks and the bookkeeping table use.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// HookFunc rewrites tenant data after a schema change. It runs inside tx;
// the hook's completion record is written in the same transaction.
type HookFunc func(ctx context.Context, tx *sql.Tx, d Dialect) error

type hook struct {
	version uint
	name    string
	fn      HookFunc
}

var registry []hook

// RegisterHook adds a data hook for a schema version. Names must be unique;
// hooks run in registration order.
func RegisterHook(version uint, name string, fn HookFunc) {
	registry = append(registry, hook{version: version, name: name, fn: fn})
}

// Runner applies registered hooks to one database and records each in
// data_migrations so a hook never runs twice.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	hooks   []hook
}

// NewRunner returns a Runner over every registered hook.
func NewRunner(db *sql.DB, d Dialect) *Runner {
	return &Runner{db: db, dialect: d, hooks: registry}
}

// Pending lists hooks that have not been recorded yet.
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range r.hooks {
		if !applied[h.name] {
			pending = append(pending, h.name)
		}
	}
	return pending, nil
}

// Run executes pending hooks and returns how many were applied. It stops at
// the first failure; that hook's changes are rolled back.
func (r *Runner) Run(ctx context.Context) (int, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range r.hooks {
		if applied[h.name] {
			continue
		}
		start := time.Now()
		if err := r.runOne(ctx, h); err != nil {
			return count, fmt.Errorf("data hook %q: %w", h.name, err)
		}
		slog.Info("data hook applied",
			"name", h.name, "schema_version", h.version, "dialect", r.dialect, "duration", time.Since(start))
		count++
	}
	return count, nil
}

func (r *Runner) runOne(ctx context.Context, h hook) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := h.fn(ctx, tx, r.dialect); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.recordSQL(), h.name, h.version); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (r *Runner) recordSQL() string {
	if r.dialect == SQLite {
		return "INSERT INTO data_migrations (name, version, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)"
	}
	return "INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, NOW())"
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	ddl := `CREATE TABLE IF NOT EXISTS data_migrations (
		name       VARCHAR(255) PRIMARY KEY,
		version    INT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if r.dialect == SQLite {
		ddl = `CREATE TABLE IF NOT EXISTS data_migrations (
		name       TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		applied_at DATETIME NOT NULL
	)`
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure data_migrations: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT name FROM data_migrations")
	if err != nil {
		return nil, fmt.Errorf("query data_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
