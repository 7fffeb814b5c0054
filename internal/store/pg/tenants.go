package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// PGTenantStore implements store.TenantStore backed by Postgres.
type PGTenantStore struct {
	db *sql.DB
}

func NewPGTenantStore(db *sql.DB) *PGTenantStore {
	return &PGTenantStore{db: db}
}

const tenantSelectCols = `tenant_id, enabled, knowledge_base, custom_instructions, preset_qa, response_style, force_mention_only, updated_at`

func (s *PGTenantStore) GetTenantConfig(ctx context.Context, tenantID string) (*store.TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantSelectCols+` FROM tenant_configs WHERE tenant_id = $1`, tenantID)

	var (
		cfg     store.TenantConfig
		presets []byte
	)
	err := row.Scan(&cfg.TenantID, &cfg.Enabled, &cfg.KnowledgeBase, &cfg.CustomInstructions,
		&presets, &cfg.ResponseStyle, &cfg.ForceMentionOnly, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(presets) > 0 {
		if err := json.Unmarshal(presets, &cfg.PresetQA); err != nil {
			return nil, fmt.Errorf("decode preset_qa for %s: %w", tenantID, err)
		}
	}
	return &cfg, nil
}

func (s *PGTenantStore) PutTenantConfig(ctx context.Context, cfg *store.TenantConfig) error {
	presets := cfg.PresetQA
	if presets == nil {
		presets = []store.PresetQA{}
	}
	b, err := json.Marshal(presets)
	if err != nil {
		return fmt.Errorf("marshal preset_qa: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_configs (tenant_id, enabled, knowledge_base, custom_instructions, preset_qa, response_style, force_mention_only, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   enabled = EXCLUDED.enabled,
		   knowledge_base = EXCLUDED.knowledge_base,
		   custom_instructions = EXCLUDED.custom_instructions,
		   preset_qa = EXCLUDED.preset_qa,
		   response_style = EXCLUDED.response_style,
		   force_mention_only = EXCLUDED.force_mention_only,
		   updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.Enabled, cfg.KnowledgeBase, cfg.CustomInstructions,
		b, cfg.WithDefaults().ResponseStyle, cfg.ForceMentionOnly, now)
	if err != nil {
		return fmt.Errorf("upsert tenant config %s: %w", cfg.TenantID, err)
	}
	cfg.UpdatedAt = now
	return nil
}

func (s *PGTenantStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenant_configs ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
