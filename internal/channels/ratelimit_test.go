package channels

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter()
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiterWindow(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			rl, clock := newTestLimiter()
			key := AIKey("tenant_a")

			for i := 0; i < n; i++ {
				assert.True(t, rl.Allow(key, n, time.Minute), "call %d", i+1)
			}
			assert.False(t, rl.Allow(key, n, time.Minute), "call N+1 must be denied")

			// Exactly at resetAt is still the old window.
			clock.Advance(time.Minute)
			assert.False(t, rl.Allow(key, n, time.Minute))

			clock.Advance(time.Millisecond)
			assert.True(t, rl.Allow(key, n, time.Minute), "fresh window after expiry")
		})
	}
}

func TestRateLimiterKeySpacesIndependent(t *testing.T) {
	rl, _ := newTestLimiter()

	assert.True(t, rl.Allow(AIKey("t1"), 1, time.Minute))
	assert.False(t, rl.Allow(AIKey("t1"), 1, time.Minute))
	assert.True(t, rl.Allow(SendKey("t1"), 1, time.Minute))
	assert.True(t, rl.Allow(AIKey("t2"), 1, time.Minute))
}

func TestRateLimiterSweep(t *testing.T) {
	rl, clock := newTestLimiter()

	rl.Allow("a", 5, time.Second)
	rl.Allow("b", 5, time.Minute)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiterCapsTrackedKeys(t *testing.T) {
	rl, _ := newTestLimiter()
	for i := 0; i < maxTrackedKeys+100; i++ {
		rl.Allow(fmt.Sprintf("send:%d", i), 1, time.Hour)
	}
	assert.LessOrEqual(t, rl.Len(), maxTrackedKeys)
}
