package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

// ManagerConfig bounds outbound sends.
type ManagerConfig struct {
	SendsPerWindow   int
	Window           time.Duration
	MaxMessageLength int
	Retry            retry.Config
	TrackedMessages  int // how many sent message ids to remember for reply detection
}

// Manager sends replies through a Sender with per-feed rate limiting,
// bounded retries and truncation, and remembers the ids of what it sent.
type Manager struct {
	sender  Sender
	limiter *RateLimiter
	cfg     ManagerConfig
	tracked *lru.Cache[string, struct{}]
}

// NewManager creates an outbound manager. The limiter is shared with the
// AI throttle; only send:<feedId> keys are used here.
func NewManager(sender Sender, limiter *RateLimiter, cfg ManagerConfig) (*Manager, error) {
	if cfg.TrackedMessages <= 0 {
		cfg.TrackedMessages = 2000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	tracked, err := lru.New[string, struct{}](cfg.TrackedMessages)
	if err != nil {
		return nil, fmt.Errorf("create tracked message set: %w", err)
	}
	return &Manager{
		sender:  sender,
		limiter: limiter,
		cfg:     cfg,
		tracked: tracked,
	}, nil
}

// Send delivers msg and returns the platform message id.
// ErrSendRateLimited is returned without calling the platform when the feed's
// budget is spent.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	if !m.limiter.Allow(SendKey(msg.FeedID), m.cfg.SendsPerWindow, m.cfg.Window) {
		slog.Warn("outbound send rate limited", "feed_id", msg.FeedID)
		return "", ErrSendRateLimited
	}

	msg.Content = Truncate(msg.Content, m.cfg.MaxMessageLength)
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = uuid.NewString()
	}

	id, err := retry.Do(ctx, m.cfg.Retry, func() (string, error) {
		return m.sender.SendMessage(ctx, msg)
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", msg.FeedID, err)
	}

	if id != "" {
		m.tracked.Add(id, struct{}{})
	}
	slog.Debug("message sent", "feed_id", msg.FeedID, "message_id", id, "len", len(msg.Content))
	return id, nil
}

// IsTracked reports whether id is one of the recently sent bot messages.
func (m *Manager) IsTracked(id string) bool {
	if id == "" {
		return false
	}
	return m.tracked.Contains(id)
}

// Track records an id as a bot message, e.g. one sent before a restart.
func (m *Manager) Track(id string) {
	if id != "" {
		m.tracked.Add(id, struct{}{})
	}
}
