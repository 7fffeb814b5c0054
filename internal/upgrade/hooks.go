package upgrade

import (
	"context"
	"database/sql"
)

// Tenant data hooks. Postgres gets its constraints from migrations/; SQLite
// has no migration history, so hooks also carry the data fixes those
// migrations made.

func init() {
	RegisterHook(2, "002_trim_tenant_text", func(ctx context.Context, tx *sql.Tx, d Dialect) error {
		trim := "btrim"
		if d == SQLite {
			trim = "trim"
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE tenant_configs
			   SET knowledge_base = `+trim+`(knowledge_base),
			       custom_instructions = `+trim+`(custom_instructions)
			 WHERE knowledge_base <> `+trim+`(knowledge_base)
			    OR custom_instructions <> `+trim+`(custom_instructions)`)
		return err
	})

	RegisterHook(2, "002_default_response_style", func(ctx context.Context, tx *sql.Tx, d Dialect) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE tenant_configs SET response_style = 'friendly'
			 WHERE response_style NOT IN ('friendly', 'professional', 'concise', 'casual')`)
		return err
	})

	RegisterHook(2, "002_empty_preset_qa", func(ctx context.Context, tx *sql.Tx, d Dialect) error {
		q := `UPDATE tenant_configs SET preset_qa = '[]' WHERE preset_qa = 'null'::jsonb`
		if d == SQLite {
			q = `UPDATE tenant_configs SET preset_qa = '[]' WHERE preset_qa IN ('', 'null')`
		}
		_, err := tx.ExecContext(ctx, q)
		return err
	})
}

// TableStats summarises tenant data for status output.
type TableStats struct {
	Tenants         int
	EnabledTenants  int
	Mappings        int
	OrphanMappings  int // mappings whose tenant has no stored config
	UnmappedTenants int // configs no channel group points at
}

// CollectStats counts tenant configs and mappings. The queries are portable
// across both dialects.
func CollectStats(ctx context.Context, db *sql.DB) (TableStats, error) {
	var s TableStats
	queries := []struct {
		sql string
		dst *int
	}{
		{`SELECT count(*) FROM tenant_configs`, &s.Tenants},
		{`SELECT count(*) FROM tenant_configs WHERE enabled = true`, &s.EnabledTenants},
		{`SELECT count(*) FROM tenant_mappings`, &s.Mappings},
		{`SELECT count(*) FROM tenant_mappings m
		   WHERE NOT EXISTS (SELECT 1 FROM tenant_configs c WHERE c.tenant_id = m.tenant_id)`, &s.OrphanMappings},
		{`SELECT count(*) FROM tenant_configs c
		   WHERE NOT EXISTS (SELECT 1 FROM tenant_mappings m WHERE m.tenant_id = c.tenant_id)`, &s.UnmappedTenants},
	}
	for _, q := range queries {
		if err := db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return s, err
		}
	}
	return s, nil
}
