package channels

import (
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked rate-limit keys so a flood of
// distinct tenants or feeds cannot grow the map without bound.
const maxTrackedKeys = 8192

type rateLimitEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter keyed by string. Each call passes its
// own limit and window, so one limiter serves every key space.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}
}

// AIKey is the rate-limit key for AI provider calls made for a tenant.
func AIKey(tenantID string) string { return "ai:" + tenantID }

// SendKey is the rate-limit key for outbound sends to a feed.
func SendKey(feedID string) string { return "send:" + feedID }

// Allow reports whether one more request for key fits in the current window.
// The first request, or the first one after the window has passed, starts a
// fresh window with count 1.
func (r *RateLimiter) Allow(key string, maxPerWindow int, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedKeys {
		r.pruneLocked(now)
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.After(e.resetAt) {
		r.entries[key] = &rateLimitEntry{count: 1, resetAt: now.Add(window)}
		return maxPerWindow > 0
	}

	e.count++
	return e.count <= maxPerWindow
}

// Sweep drops every entry whose window has expired and returns how many were removed.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(r.now())
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *RateLimiter) pruneLocked(now time.Time) int {
	removed := 0
	for k, e := range r.entries {
		if now.After(e.resetAt) {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}
