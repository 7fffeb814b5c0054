package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// TenantStore implements store.TenantStore on SQLite.
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) GetTenantConfig(ctx context.Context, tenantID string) (*store.TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, enabled, knowledge_base, custom_instructions, preset_qa, response_style, force_mention_only, updated_at
		 FROM tenant_configs WHERE tenant_id = ?`, tenantID)

	var (
		cfg     store.TenantConfig
		presets string
	)
	err := row.Scan(&cfg.TenantID, &cfg.Enabled, &cfg.KnowledgeBase, &cfg.CustomInstructions,
		&presets, &cfg.ResponseStyle, &cfg.ForceMentionOnly, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if presets != "" {
		if err := json.Unmarshal([]byte(presets), &cfg.PresetQA); err != nil {
			return nil, fmt.Errorf("decode preset_qa for %s: %w", tenantID, err)
		}
	}
	return &cfg, nil
}

func (s *TenantStore) PutTenantConfig(ctx context.Context, cfg *store.TenantConfig) error {
	presets := cfg.PresetQA
	if presets == nil {
		presets = []store.PresetQA{}
	}
	b, err := json.Marshal(presets)
	if err != nil {
		return fmt.Errorf("marshal preset_qa: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_configs (tenant_id, enabled, knowledge_base, custom_instructions, preset_qa, response_style, force_mention_only, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   enabled = excluded.enabled,
		   knowledge_base = excluded.knowledge_base,
		   custom_instructions = excluded.custom_instructions,
		   preset_qa = excluded.preset_qa,
		   response_style = excluded.response_style,
		   force_mention_only = excluded.force_mention_only,
		   updated_at = excluded.updated_at`,
		cfg.TenantID, cfg.Enabled, cfg.KnowledgeBase, cfg.CustomInstructions,
		string(b), cfg.WithDefaults().ResponseStyle, cfg.ForceMentionOnly, now, now)
	if err != nil {
		return fmt.Errorf("upsert tenant config %s: %w", cfg.TenantID, err)
	}
	cfg.UpdatedAt = now
	return nil
}

func (s *TenantStore) ListTenantIDs(ctx context.Context) ([]string, error) {
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
