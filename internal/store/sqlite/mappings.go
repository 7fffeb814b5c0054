package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// MappingStore implements store.MappingStore on SQLite.
type MappingStore struct {
	db *sql.DB
}

func NewMappingStore(db *sql.DB) *MappingStore {
	return &MappingStore{db: db}
}

func (s *MappingStore) GetMapping(ctx context.Context, channelGroupID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM tenant_mappings WHERE channel_group_id = ?`, channelGroupID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return tenantID, nil
}

func (s *MappingStore) PutMapping(ctx context.Context, m store.Mapping) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_mappings (channel_group_id, tenant_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (channel_group_id) DO UPDATE SET
		   tenant_id = excluded.tenant_id,
		   updated_at = excluded.updated_at`,
		m.ChannelGroupID, m.TenantID, now, now)
	return err
}

func (s *MappingStore) ListMappings(ctx context.Context) ([]store.Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_group_id, tenant_id, updated_at FROM tenant_mappings ORDER BY channel_group_id`)
	if err != nil {
		return nil, err
	}
	return scanMappings(rows)
}

func (s *MappingStore) ListMappingsForTenants(ctx context.Context, tenantIDs []string) ([]store.Mapping, error) {
	if len(tenantIDs) == 0 {
		return s.ListMappings(ctx)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tenantIDs)), ",")
	args := make([]any, len(tenantIDs))
	for i, id := range tenantIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_group_id, tenant_id, updated_at FROM tenant_mappings
		 WHERE tenant_id IN (`+placeholders+`) ORDER BY tenant_id, channel_group_id`, args...)
	if err != nil {
		return nil, err
	}
	return scanMappings(rows)
}

func scanMappings(rows *sql.Rows) ([]store.Mapping, error) {
	defer rows.Close()

	var out []store.Mapping
	for rows.Next() {
		var m store.Mapping
		if err := rows.Scan(&m.ChannelGroupID, &m.TenantID, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
