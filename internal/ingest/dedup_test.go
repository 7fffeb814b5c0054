package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
)

type recordingRegistrar struct {
	mu    sync.Mutex
	calls []bus.MappingAdvert
}

func (r *recordingRegistrar) RegisterMapping(_ context.Context, cg, tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bus.MappingAdvert{ChannelGroupID: cg, TenantID: tenant})
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestDedup(cfg Config) (*Deduplicator, *recordingRegistrar, *testClock) {
	reg := &recordingRegistrar{}
	d := NewDeduplicator(cfg, reg)
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	d.now = clock.Now
	return d, reg, clock
}

func post(id, author, feed, content string) bus.Envelope {
	return bus.Envelope{Post: &bus.Post{
		EntityID:       id,
		FeedID:         feed,
		ChannelGroupID: "cg_1",
		Content:        content,
		Author:         bus.Author{ID: author},
	}}
}

func TestIngestForwardsMappings(t *testing.T) {
	d, reg, _ := newTestDedup(Config{})
	ctx := context.Background()

	assert.Nil(t, d.Ingest(ctx, bus.Envelope{Mapping: &bus.MappingAdvert{ChannelGroupID: "cg_1", TenantID: "tenant_a"}}))
	assert.Nil(t, d.Ingest(ctx, bus.Envelope{Mapping: &bus.MappingAdvert{ChannelGroupID: "cg_2"}}))
	assert.Nil(t, d.Ingest(ctx, bus.Envelope{}))

	require.Len(t, reg.calls, 1)
	assert.Equal(t, "tenant_a", reg.calls[0].TenantID)
}

func TestIngestRejections(t *testing.T) {
	tests := []struct {
		name string
		env  bus.Envelope
	}{
		{"missing entity id", post("", "user_1", "chat_feed_1", "hello?")},
		{"bot's own post", post("p1", "bot_user", "chat_feed_1", "hello?")},
		{"empty content", post("p2", "user_1", "chat_feed_1", "")},
		{"whitespace content", post("p3", "user_1", "chat_feed_1", "  \n\t ")},
		{"both shapes", bus.Envelope{
			Mapping: &bus.MappingAdvert{ChannelGroupID: "cg", TenantID: "t"},
			Post:    &bus.Post{EntityID: "p4", Content: "x", Author: bus.Author{ID: "u"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDedup(Config{BotUserID: "bot_user"})
			assert.Nil(t, d.Ingest(context.Background(), tt.env))
		})
	}
}

func TestIngestDropsSeenEntityID(t *testing.T) {
	d, _, _ := newTestDedup(Config{})
	ctx := context.Background()

	msg := d.Ingest(ctx, post("p1", "user_1", "chat_feed_1", "what time is it?"))
	require.NotNil(t, msg)
	assert.Equal(t, "p1", msg.EntityID)

	assert.Nil(t, d.Ingest(ctx, post("p1", "user_2", "chat_feed_2", "different content")))
}

func TestIngestSeenSetEvictsOldest(t *testing.T) {
	d, _, _ := newTestDedup(Config{SeenSize: 2})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NotNil(t, d.Ingest(ctx, post(fmt.Sprintf("p%d", i), fmt.Sprintf("user_%d", i), "chat_feed_1", "q?")))
	}
	// p1 fell out of the bounded set, so it may be processed again.
	assert.NotNil(t, d.Ingest(ctx, post("p1", "user_9", "chat_feed_1", "q?")))
	// p3 is still remembered.
	assert.Nil(t, d.Ingest(ctx, post("p3", "user_8", "chat_feed_1", "q?")))
}

func TestIngestSecondaryDedup(t *testing.T) {
	d, _, clock := newTestDedup(Config{DuplicateWindow: 10 * time.Second})
	ctx := context.Background()

	require.NotNil(t, d.Ingest(ctx, post("p1", "user_1", "chat_feed_1", "is the shop open?")))

	clock.now = clock.now.Add(3 * time.Second)
	assert.Nil(t, d.Ingest(ctx, post("p2", "user_1", "chat_feed_1", "is the shop open?")), "redelivery with a new id")
	assert.NotNil(t, d.Ingest(ctx, post("p3", "user_2", "chat_feed_1", "is the shop open?")), "different author")
	assert.NotNil(t, d.Ingest(ctx, post("p4", "user_1", "chat_feed_2", "is the shop open?")), "different feed")

	clock.now = clock.now.Add(11 * time.Second)
	assert.NotNil(t, d.Ingest(ctx, post("p5", "user_1", "chat_feed_1", "is the shop open?")), "outside window")
}

func TestIngestHistory(t *testing.T) {
	d, _, clock := newTestDedup(Config{HistorySize: 2})
	ctx := context.Background()

	d.Ingest(ctx, post("p1", "user_1", "chat_feed_1", "one"))
	clock.now = clock.now.Add(time.Minute)
	d.Ingest(ctx, post("p2", "user_1", "chat_feed_1", "two"))
	d.Ingest(ctx, post("p3", "user_1", "chat_feed_1", "three"))
	d.Ingest(ctx, post("p4", "user_1", "chat_feed_2", "other"))

	h := d.History("chat_feed_1")
	require.Len(t, h, 2)
	assert.Equal(t, "two", h[0].Content)
	assert.Equal(t, "three", h[1].Content)

	clock.now = clock.now.Add(30 * time.Second)
	assert.Equal(t, 0, d.ExpireHistory(time.Hour))

	clock.now = clock.now.Add(2 * time.Hour)
	assert.Equal(t, 3, d.ExpireHistory(time.Hour))
	assert.Empty(t, d.History("chat_feed_1"))
}
