package agent

import (
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	answerCacheCounterFactor = 10
	answerCacheBufferItems   = 64
)

// AnswerCache remembers generated answers per tenant and normalized question.
// A zero TTL disables it. InvalidateTenant drops every answer for a tenant by
// bumping its generation, so stale answers can no longer be addressed.
type AnswerCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// NewAnswerCache holds up to maxEntries answers for ttl each.
func NewAnswerCache(maxEntries int64, ttl time.Duration) (*AnswerCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &AnswerCache{ttl: ttl, generations: make(map[string]uint64)}
	if ttl <= 0 {
		return c, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * answerCacheCounterFactor,
		MaxCost:     maxEntries,
		BufferItems: answerCacheBufferItems,
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

func (c *AnswerCache) key(tenantID, question string) string {
	c.mu.Lock()
	gen := c.generations[tenantID]
	c.mu.Unlock()
	return tenantID + "\x00" + strconv.FormatUint(gen, 10) + "\x00" + question
}

// Get returns the cached answer for an already normalized question.
func (c *AnswerCache) Get(tenantID, question string) (string, bool) {
	if c == nil || c.cache == nil || question == "" {
		return "", false
	}
	v, ok := c.cache.Get(c.key(tenantID, question))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores an answer. Writes are applied asynchronously; call Wait when a
// subsequent Get must observe them.
func (c *AnswerCache) Set(tenantID, question, answer string) {
	if c == nil || c.cache == nil || question == "" || answer == "" {
		return
	}
	c.cache.SetWithTTL(c.key(tenantID, question), answer, 1, c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *AnswerCache) Wait() {
	if c != nil && c.cache != nil {
		c.cache.Wait()
	}
}

// InvalidateTenant forgets every answer cached for tenantID.
func (c *AnswerCache) InvalidateTenant(tenantID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[tenantID]++
	c.mu.Unlock()
}

// Close releases the cache's background goroutines.
func (c *AnswerCache) Close() {
	if c != nil && c.cache != nil {
		c.cache.Close()
	}
}
