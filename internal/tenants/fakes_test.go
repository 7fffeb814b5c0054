package tenants

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

type memMappingStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{data: make(map[string]string)}
}

func (s *memMappingStore) GetMapping(_ context.Context, cg string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[cg]
	if !ok {
		return "", store.ErrNotFound
	}
	return t, nil
}

func (s *memMappingStore) PutMapping(_ context.Context, m store.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[m.ChannelGroupID] = m.TenantID
	return nil
}

func (s *memMappingStore) ListMappings(_ context.Context) ([]store.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Mapping
	for cg, t := range s.data {
		out = append(out, store.Mapping{ChannelGroupID: cg, TenantID: t})
	}
	return out, nil
}

func (s *memMappingStore) ListMappingsForTenants(ctx context.Context, _ []string) ([]store.Mapping, error) {
	return s.ListMappings(ctx)
}

type memTenantStore struct {
	mu    sync.Mutex
	data  map[string]store.TenantConfig
	err   error
	reads atomic.Int32
	gate  chan struct{} // when set, reads block until closed
}

func newMemTenantStore() *memTenantStore {
	return &memTenantStore{data: make(map[string]store.TenantConfig)}
}

func (s *memTenantStore) GetTenantConfig(_ context.Context, id string) (*store.TenantConfig, error) {
	s.reads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cfg, ok := s.data[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (s *memTenantStore) PutTenantConfig(_ context.Context, cfg *store.TenantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cfg.TenantID] = *cfg
	return nil
}

func (s *memTenantStore) ListTenantIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memTenantStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type recordingInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingInvalidator) Invalidate(tenantID string) {
	r.mu.Lock()
	r.tenants = append(r.tenants, tenantID)
	r.mu.Unlock()
}

func (r *recordingInvalidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tenants...)
}

type staticDirectory struct {
	list []store.Mapping
	err  error
}

func (d staticDirectory) ListMappings(context.Context) ([]store.Mapping, error) {
	return d.list, d.err
}
