// Package sqlite provides a single-file store for standalone deployments
// that do not run Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/upgrade"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tenant_configs (
		tenant_id           TEXT PRIMARY KEY,
		enabled             INTEGER NOT NULL DEFAULT 0,
		knowledge_base      TEXT NOT NULL DEFAULT '',
		custom_instructions TEXT NOT NULL DEFAULT '',
		preset_qa           TEXT NOT NULL DEFAULT '[]',
		response_style      TEXT NOT NULL DEFAULT '',
		force_mention_only  INTEGER NOT NULL DEFAULT 0,
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenant_mappings (
		channel_group_id TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_mappings_tenant ON tenant_mappings(tenant_id);
`

// OpenDB opens (creating if needed) the SQLite file and applies the schema.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores backed by one SQLite file. Pending
// tenant data hooks are applied before the stores are handed out.
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := upgrade.NewRunner(db, upgrade.SQLite).Run(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite data hooks: %w", err)
	}
	return &store.Stores{
		Tenants:  NewTenantStore(db),
		Mappings: NewMappingStore(db),
		Close:    db.Close,
	}, nil
}
