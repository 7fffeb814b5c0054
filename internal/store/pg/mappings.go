package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// PGMappingStore implements store.MappingStore backed by Postgres.
type PGMappingStore struct {
	db *sql.DB
}

func NewPGMappingStore(db *sql.DB) *PGMappingStore {
	return &PGMappingStore{db: db}
}

func (s *PGMappingStore) GetMapping(ctx context.Context, channelGroupID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM tenant_mappings WHERE channel_group_id = $1`, channelGroupID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return tenantID, nil
}

func (s *PGMappingStore) PutMapping(ctx context.Context, m store.Mapping) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_mappings (channel_group_id, tenant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (channel_group_id) DO UPDATE SET
		   tenant_id = EXCLUDED.tenant_id,
		   updated_at = EXCLUDED.updated_at`,
		m.ChannelGroupID, m.TenantID, now)
	return err
}

func (s *PGMappingStore) ListMappings(ctx context.Context) ([]store.Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_group_id, tenant_id, updated_at FROM tenant_mappings ORDER BY channel_group_id`)
	if err != nil {
		return nil, err
	}
	return scanMappings(rows)
}

func (s *PGMappingStore) ListMappingsForTenants(ctx context.Context, tenantIDs []string) ([]store.Mapping, error) {
	if len(tenantIDs) == 0 {
		return s.ListMappings(ctx)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_group_id, tenant_id, updated_at FROM tenant_mappings
		 WHERE tenant_id = ANY($1) ORDER BY tenant_id, channel_group_id`, pq.Array(tenantIDs))
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
