// Package ingest turns raw stream envelopes into normalized chat messages,
// dropping duplicates, the bot's own posts and anything malformed.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
)

// MappingRegistrar receives channel-group advertisements from the stream.
type MappingRegistrar interface {
	RegisterMapping(ctx context.Context, channelGroupID, tenantID string)
}

// Config controls deduplication and history.
type Config struct {
	BotUserID       string
	SeenSize        int           // capacity of the entity-id LRU
	DuplicateWindow time.Duration // same author, same feed, same content within this window is a retry
	HistorySize     int           // per-feed rolling history length
}

type lastPost struct {
	content string
	at      time.Time
}

// Deduplicator implements stream ingestion. It never returns errors;
// everything it rejects is logged at debug and dropped.
type Deduplicator struct {
	cfg       Config
	registrar MappingRegistrar
	seen      *lru.Cache[string, struct{}]

	mu      sync.Mutex
	last    map[string]lastPost // authorID|feedID -> last accepted post
	history map[string][]bus.InboundMessage

	now func() time.Time
}

func NewDeduplicator(cfg Config, registrar MappingRegistrar) *Deduplicator {
	if cfg.SeenSize <= 0 {
		cfg.SeenSize = 5000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	seen, _ := lru.New[string, struct{}](cfg.SeenSize) // only errors on size <= 0
	return &Deduplicator{
		cfg:       cfg,
		registrar: registrar,
		seen:      seen,
		last:      make(map[string]lastPost),
		history:   make(map[string][]bus.InboundMessage),
		now:       time.Now,
	}
}

// Ingest processes one envelope. It returns a message only for a post that
// should reach the coordinator; mapping advertisements are forwarded to the
// registrar and yield nil.
func (d *Deduplicator) Ingest(ctx context.Context, env bus.Envelope) *bus.InboundMessage {
	switch {
	case env.Mapping != nil && env.Post != nil:
		slog.Debug("dropping envelope with both mapping and post")
		return nil
	case env.Mapping != nil:
		d.ingestMapping(ctx, env.Mapping)
		return nil
	case env.Post != nil:
		return d.ingestPost(env.Post)
	default:
		slog.Debug("dropping empty envelope")
		return nil
	}
}

func (d *Deduplicator) ingestMapping(ctx context.Context, m *bus.MappingAdvert) {
	if m.ChannelGroupID == "" || m.TenantID == "" {
		slog.Debug("dropping incomplete mapping advertisement",
			"channel_group_id", m.ChannelGroupID, "tenant_id", m.TenantID)
		return
	}
	if d.registrar != nil {
		d.registrar.RegisterMapping(ctx, m.ChannelGroupID, m.TenantID)
	}
}

func (d *Deduplicator) ingestPost(p *bus.Post) *bus.InboundMessage {
	if p.EntityID == "" {
		slog.Debug("dropping post without entity id", "feed_id", p.FeedID)
		return nil
	}
	// ContainsOrAdd marks the id as seen in the same step as the check.
	if found, _ := d.seen.ContainsOrAdd(p.EntityID, struct{}{}); found {
		slog.Debug("dropping duplicate post", "entity_id", p.EntityID)
		return nil
	}
	if d.cfg.BotUserID != "" && p.Author.ID == d.cfg.BotUserID {
		return nil
	}
	if strings.TrimSpace(p.Content) == "" {
		slog.Debug("dropping empty post", "entity_id", p.EntityID)
		return nil
	}

	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	key := p.Author.ID + "|" + p.FeedID
	if prev, ok := d.last[key]; ok && prev.content == p.Content && now.Sub(prev.at) <= d.cfg.DuplicateWindow {
		slog.Debug("dropping redelivered post", "entity_id", p.EntityID, "author_id", p.Author.ID, "feed_id", p.FeedID)
		return nil
	}
	d.last[key] = lastPost{content: p.Content, at: now}

	msg := bus.InboundMessage{
		EntityID:       p.EntityID,
		FeedID:         p.FeedID,
		ChannelGroupID: p.ChannelGroupID,
		Content:        p.Content,
		Author:         p.Author,
		ReplyToID:      p.ReplyToID,
		ReceivedAt:     now,
	}

	h := append(d.history[p.FeedID], msg)
	if len(h) > d.cfg.HistorySize {
		h = h[len(h)-d.cfg.HistorySize:]
	}
	d.history[p.FeedID] = h

	return &msg
}

// History returns a copy of the rolling history for a feed, oldest first.
func (d *Deduplicator) History(feedID string) []bus.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bus.InboundMessage(nil), d.history[feedID]...)
}

// ExpireHistory drops history entries older than maxAge and forgets
// author/feed duplicate markers older than the duplicate window.
// It returns the number of history entries removed.
func (d *Deduplicator) ExpireHistory(maxAge time.Duration) int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for feedID, h := range d.history {
		i := 0
		for i < len(h) && now.Sub(h[i].ReceivedAt) > maxAge {
			i++
		}
		removed += i
		if i == len(h) {
			delete(d.history, feedID)
			continue
		}
		if i > 0 {
			d.history[feedID] = append([]bus.InboundMessage(nil), h[i:]...)
		}
	}

	for k, lp := range d.last {
		if now.Sub(lp.at) > d.cfg.DuplicateWindow {
			delete(d.last, k)
		}
	}
	return removed
}
