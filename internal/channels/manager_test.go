package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []bus.OutboundMessage
}

func (f *fakeSender) SendMessage(_ context.Context, msg bus.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", &retry.HTTPError{Status: 502, Body: "bad gateway"}
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg_%d", len(f.sent)), nil
}

func newTestManager(t *testing.T, sender Sender, sends int) *Manager {
	t.Helper()
	m, err := NewManager(sender, NewRateLimiter(), ManagerConfig{
		SendsPerWindow:   sends,
		Window:           time.Minute,
		MaxMessageLength: 20,
		Retry:            retry.Config{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		TrackedMessages:  2,
	})
	require.NoError(t, err)
	return m
}

func TestManagerSendTracksAndTruncates(t *testing.T) {
	sender := &fakeSender{}
	m := newTestManager(t, sender, 10)

	id, err := m.Send(context.Background(), bus.OutboundMessage{FeedID: "chat_feed_1", Content: "this answer is far too long to fit"})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", id)
	assert.True(t, m.IsTracked(id))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, 20, len([]rune(sender.sent[0].Content)))
	assert.NotEmpty(t, sender.sent[0].IdempotencyKey)
}

func TestManagerRetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failures: 2}
	m := newTestManager(t, sender, 10)

	id, err := m.Send(context.Background(), bus.OutboundMessage{FeedID: "chat_feed_1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", id)
}

func TestManagerGivesUpAfterBudget(t *testing.T) {
	sender := &fakeSender{failures: 10}
	m := newTestManager(t, sender, 10)

	_, err := m.Send(context.Background(), bus.OutboundMessage{FeedID: "chat_feed_1", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, 7, sender.failures)
}

func TestManagerRateLimitsPerFeed(t *testing.T) {
	sender := &fakeSender{}
	m := newTestManager(t, sender, 1)
	ctx := context.Background()

	_, err := m.Send(ctx, bus.OutboundMessage{FeedID: "chat_feed_1", Content: "one"})
	require.NoError(t, err)
	_, err = m.Send(ctx, bus.OutboundMessage{FeedID: "chat_feed_1", Content: "two"})
	assert.True(t, errors.Is(err, ErrSendRateLimited))
	_, err = m.Send(ctx, bus.OutboundMessage{FeedID: "chat_feed_2", Content: "three"})
	assert.NoError(t, err)
	assert.Len(t, sender.sent, 2)
}

func TestManagerTrackedSetIsBounded(t *testing.T) {
	sender := &fakeSender{}
	m := newTestManager(t, sender, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Send(ctx, bus.OutboundMessage{FeedID: "chat_feed_1", Content: "x"})
		require.NoError(t, err)
	}
	assert.False(t, m.IsTracked("msg_1"), "oldest id evicted")
	assert.True(t, m.IsTracked("msg_3"))
	assert.False(t, m.IsTracked(""))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is long", 8, "this ..."},
		{"héllo wörld", 7, "héll..."},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
	}
}
