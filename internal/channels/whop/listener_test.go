package whop

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerDeliversEnvelopesAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		frames := []string{
			`{"type":"ping"}`,
			`garbage`,
			`{"type":"channel_mapping","data":{"channel_group_id":"cg_1","tenant_id":"tenant_a"}}`,
		}
		if n > 1 {
			frames = []string{`{"type":"post","data":{"entity_id":"post_1","feed_id":"chat_feed_1","channel_group_id":"cg_1","content":"hi?","author":{"id":"user_1"}}}`}
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Drop the connection to force a reconnect.
		c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	ln := NewListener(ListenerConfig{
		URL:         wsURL(srv),
		Token:       "tok",
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ln.Run(ctx) }()

	var got []bus.Envelope
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case env := <-ln.Envelopes():
			got = append(got, env)
		case <-timeout:
			t.Fatal("timed out waiting for envelopes")
		}
	}
	cancel()

	require.NotNil(t, got[0].Mapping)
	assert.Equal(t, "tenant_a", got[0].Mapping.TenantID)
	require.NotNil(t, got[1].Post)
	assert.Equal(t, "post_1", got[1].Post.EntityID)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerExhaustsReconnectBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ln := NewListener(ListenerConfig{
		URL:         wsURL(srv),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	})

	err := ln.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReconnectExhausted))
	assert.Equal(t, int32(4), attempts.Load(), "initial attempt plus three reconnects")

	_, open := <-ln.Envelopes()
	assert.False(t, open)
}
