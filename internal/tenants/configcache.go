package tenants

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

type configEntry struct {
	cfg       store.TenantConfig
	fetchedAt time.Time
}

// ConfigCache is a TTL cache in front of the tenant config store.
// Get never fails: on a store error it serves the last known value, or the
// documented defaults when nothing was ever loaded.
type ConfigCache struct {
	store store.TenantStore
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]configEntry
	group   singleflight.Group

	now func() time.Time
}

func NewConfigCache(ts store.TenantStore, ttl time.Duration) *ConfigCache {
	return &ConfigCache{
		store:   ts,
		ttl:     ttl,
		entries: make(map[string]configEntry),
		now:     time.Now,
	}
}

// Get returns the tenant's config with defaults merged in.
// Concurrent misses for one tenant share a single store read.
func (c *ConfigCache) Get(ctx context.Context, tenantID string, forceRefresh bool) store.TenantConfig {
	if !forceRefresh {
		c.mu.RLock()
		e, ok := c.entries[tenantID]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.fetchedAt) < c.ttl {
			return e.cfg.WithDefaults()
		}
	}

	v, _, _ := c.group.Do(tenantID, func() (any, error) {
		return c.load(ctx, tenantID), nil
	})
	return v.(store.TenantConfig).WithDefaults()
}

func (c *ConfigCache) load(ctx context.Context, tenantID string) store.TenantConfig {
	stored, err := c.store.GetTenantConfig(ctx, tenantID)
	switch {
	case err == nil:
		cfg := stored.WithDefaults()
		cfg.TenantID = tenantID
		c.put(tenantID, cfg)
		return cfg
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("no stored tenant config, using defaults", "tenant_id", tenantID)
		cfg := store.DefaultTenantConfig(tenantID)
		c.put(tenantID, cfg)
		return cfg
	}

	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok {
		slog.Warn("tenant config load failed, serving stale value",
			"tenant_id", tenantID, "age", c.now().Sub(e.fetchedAt), "error", err)
		return e.cfg
	}
	slog.Warn("tenant config load failed, serving defaults", "tenant_id", tenantID, "error", err)
	return store.DefaultTenantConfig(tenantID)
}

func (c *ConfigCache) put(tenantID string, cfg store.TenantConfig) {
	c.mu.Lock()
	c.entries[tenantID] = configEntry{cfg: cfg, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate expires the cached entry so the next Get reads the store.
// The old value is kept as the stale fallback.
func (c *ConfigCache) Invalidate(tenantID string) {
	c.mu.Lock()
	if e, ok := c.entries[tenantID]; ok {
		e.fetchedAt = time.Time{}
		c.entries[tenantID] = e
	}
	c.mu.Unlock()
	slog.Debug("tenant config invalidated", "tenant_id", tenantID)
}

// Len returns the number of cached tenants.
func (c *ConfigCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
