package store

import (
	"context"
	"time"
)

// Mapping ties an upstream channel-group id to the tenant that owns it.
// Many channel groups may map to one tenant.
type Mapping struct {
	ChannelGroupID string    `json:"channel_group_id"`
	TenantID       string    `json:"tenant_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MappingStore persists channel-group to tenant mappings for warm restarts.
// Writes are idempotent upserts.
type MappingStore interface {
	// GetMapping returns the tenant id for a channel group, or ErrNotFound.
	GetMapping(ctx context.Context, channelGroupID string) (string, error)
	PutMapping(ctx context.Context, m Mapping) error
	ListMappings(ctx context.Context) ([]Mapping, error)
	ListMappingsForTenants(ctx context.Context, tenantIDs []string) ([]Mapping, error)
}
