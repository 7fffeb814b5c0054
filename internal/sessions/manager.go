// Package sessions keeps the short rolling conversation context per tenant
// that is fed to the AI provider.
package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one line of conversation context.
type Entry struct {
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

type window struct {
	entries []Entry
	updated time.Time
}

// Manager holds one bounded context window per tenant. A window idle for
// longer than the TTL reads as empty and is dropped by ExpireIdle.
type Manager struct {
	windows    map[string]*window
	mu         sync.RWMutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func NewManager(maxEntries int, ttl time.Duration) *Manager {
	if maxEntries <= 0 {
		maxEntries = 20
	}
	return &Manager{
		windows:    make(map[string]*window),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Append adds entries to the tenant's window, keeping only the newest maxEntries.
func (m *Manager) Append(tenantID string, entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[tenantID]
	if !ok || m.expired(w, now) {
		w = &window{}
		m.windows[tenantID] = w
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		w.entries = append(w.entries, e)
	}
	if over := len(w.entries) - m.maxEntries; over > 0 {
		w.entries = append([]Entry(nil), w.entries[over:]...)
	}
	w.updated = now
}

// History returns a copy of the tenant's window, oldest first.
func (m *Manager) History(tenantID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[tenantID]
	if !ok || m.expired(w, m.now()) {
		return nil
	}
	return append([]Entry(nil), w.entries...)
}

// FormatContext renders the window as a plain transcript for the prompt.
func (m *Manager) FormatContext(tenantID string) string {
	history := m.History(tenantID)
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range history {
		who := e.Author
		if e.IsBot {
			who = "Assistant"
		} else if who == "" {
			who = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", who, strings.TrimSpace(e.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Reset clears the tenant's window.
func (m *Manager) Reset(tenantID string) {
	m.mu.Lock()
	delete(m.windows, tenantID)
	m.mu.Unlock()
}

// ExpireIdle drops windows idle for longer than the TTL and returns how many.
func (m *Manager) ExpireIdle() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, w := range m.windows {
		if m.expired(w, now) {
			delete(m.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live windows.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows)
}

func (m *Manager) expired(w *window, now time.Time) bool {
	return m.ttl > 0 && now.Sub(w.updated) > m.ttl
}
