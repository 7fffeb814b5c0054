// Package tenants resolves channel groups to tenants and caches tenant
// configuration.
package tenants

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

const (
	eventBufferSize = 64
	persistTimeout  = 10 * time.Second
	lookupTimeout   = 5 * time.Second
)

// Directory returns the authoritative channel-group to tenant list.
type Directory interface {
	ListMappings(ctx context.Context) ([]store.Mapping, error)
}

// Invalidator drops a tenant's cached configuration.
type Invalidator interface {
	Invalidate(tenantID string)
}

// BufferConfig bounds the pending buffer per channel group.
type BufferConfig struct {
	Size        int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Resolver maps channel-group ids to tenant ids. Messages for unknown channel
// groups wait in a bounded pending buffer; when their mapping becomes known a
// MappingEvent is published on Events() and the consumer takes them back with
// TakeBuffered.
type Resolver struct {
	store       store.MappingStore
	directory   Directory
	invalidator Invalidator
	cfg         BufferConfig

	mu       sync.Mutex
	mappings map[string]string
	pending  map[string]*pendingQueue
	closed   bool

	events    chan bus.MappingEvent
	persistWG sync.WaitGroup
}

// NewResolver creates a resolver with an empty in-memory map. Call
// LoadFromStore to warm it; ms may be nil, which keeps mappings in memory only.
func NewResolver(ms store.MappingStore, dir Directory, inv Invalidator, cfg BufferConfig) *Resolver {
	if cfg.Size <= 0 {
		cfg.Size = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Resolver{
		store:       ms,
		directory:   dir,
		invalidator: inv,
		cfg:         cfg,
		mappings:    make(map[string]string),
		pending:     make(map[string]*pendingQueue),
		events:      make(chan bus.MappingEvent, eventBufferSize),
	}
}

// Events delivers mapping-resolved notifications for channel groups that
// have buffered messages.
func (r *Resolver) Events() <-chan bus.MappingEvent { return r.events }

// Resolve returns the tenant for a channel group if known.
func (r *Resolver) Resolve(channelGroupID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.mappings[channelGroupID]
	return t, ok
}

// Len returns the number of known mappings.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings)
}

// RegisterMapping records channelGroupID -> tenantID. New and changed
// mappings are persisted asynchronously; a changed mapping also invalidates
// the new tenant's cached config. If messages are buffered for the channel
// group a MappingEvent is published.
func (r *Resolver) RegisterMapping(ctx context.Context, channelGroupID, tenantID string) {
	if channelGroupID == "" || tenantID == "" {
		return
	}
	r.register(channelGroupID, tenantID, true)
}

// register reports whether the pair was new or changed, and whether a
// MappingEvent went out for buffered messages.
func (r *Resolver) register(channelGroupID, tenantID string, persist bool) (changed, published bool) {
	r.mu.Lock()
	prev, existed := r.mappings[channelGroupID]
	r.mappings[channelGroupID] = tenantID
	q := r.pending[channelGroupID]
	hasPending := q != nil && len(q.msgs) > 0
	r.mu.Unlock()

	isNew := !existed || prev != tenantID
	remapped := existed && prev != tenantID

	if isNew {
		slog.Info("tenant mapping registered",
			"channel_group_id", channelGroupID, "tenant_id", tenantID, "previous_tenant_id", prev)
		if persist {
			r.persist(channelGroupID, tenantID)
		}
	}
	if remapped && r.invalidator != nil {
		r.invalidator.Invalidate(tenantID)
	}
	if hasPending {
		published = r.publish(bus.MappingEvent{ChannelGroupID: channelGroupID, TenantID: tenantID})
	}
	return isNew, published
}

func (r *Resolver) persist(channelGroupID, tenantID string) {
	if r.store == nil {
		return
	}
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.store.PutMapping(ctx, store.Mapping{ChannelGroupID: channelGroupID, TenantID: tenantID}); err != nil {
			slog.Warn("persist tenant mapping failed",
				"channel_group_id", channelGroupID, "tenant_id", tenantID, "error", err)
		}
	}()
}

// publish never blocks; a dropped event is recovered by the next buffer retry.
func (r *Resolver) publish(ev bus.MappingEvent) bool {
	select {
	case r.events <- ev:
		return true
	default:
		slog.Warn("mapping event channel full", "channel_group_id", ev.ChannelGroupID)
		return false
	}
}

// LoadFromStore seeds the in-memory map from the persistent store.
// It runs before the stream connects so warm restarts do not need buffering.
func (r *Resolver) LoadFromStore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	list, err := r.store.ListMappings(ctx)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	for _, m := range list {
		r.mappings[m.ChannelGroupID] = m.TenantID
	}
	r.mu.Unlock()
	return len(list), nil
}

// Reconcile fetches the authoritative directory and registers every new or
// changed pair. It returns how many mappings changed.
func (r *Resolver) Reconcile(ctx context.Context) (int, error) {
	if r.directory == nil {
		return 0, nil
	}
	list, err := r.directory.ListMappings(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range list {
		if m.ChannelGroupID == "" || m.TenantID == "" {
			continue
		}
		if isNew, _ := r.register(m.ChannelGroupID, m.TenantID, true); isNew {
			changed++
		}
	}
	return changed, nil
}

// lookupStore asks the persistent store for a mapping another process may
// have written. Not-found is not an error.
func (r *Resolver) lookupStore(channelGroupID string) (string, bool) {
	if r.store == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	tenantID, err := r.store.GetMapping(ctx, channelGroupID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("mapping store lookup failed", "channel_group_id", channelGroupID, "error", err)
		}
		return "", false
	}
	return tenantID, true
}

// Close stops every pending retry timer and waits for in-flight persists.
// Buffered messages are discarded.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	for cg, q := range r.pending {
		if q.timer != nil {
			q.timer.Stop()
		}
		delete(r.pending, cg)
	}
	r.mu.Unlock()
	r.persistWG.Wait()
}

// WaitPersisted blocks until every asynchronous mapping write has finished.
func (r *Resolver) WaitPersisted() {
	r.persistWG.Wait()
}
