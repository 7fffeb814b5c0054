package whop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

// ErrReconnectExhausted is returned by Listener.Run when the stream could not
// be re-established within the attempt budget. The process should exit
// non-zero so its supervisor restarts it.
var ErrReconnectExhausted = errors.New("whop: stream reconnect attempts exhausted")

const (
	envelopeBufferSize  = 256
	defaultReadDeadline = 3 * time.Minute
)

// ListenerConfig bounds reconnects for the event stream.
type ListenerConfig struct {
	URL          string
	Token        string
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ReadDeadline time.Duration // silent-disconnect detection
	HTTPClient   *http.Client
}

// Listener keeps a WebSocket connection to the event stream open and
// publishes decoded envelopes on a channel.
type Listener struct {
	cfg       ListenerConfig
	envelopes chan bus.Envelope

	mu        sync.Mutex
	connected bool
}

func NewListener(cfg ListenerConfig) *Listener {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ReadDeadline <= 0 {
		cfg.ReadDeadline = defaultReadDeadline
	}
	return &Listener{
		cfg:       cfg,
		envelopes: make(chan bus.Envelope, envelopeBufferSize),
	}
}

// Envelopes returns the channel of decoded envelopes. It is closed when Run returns.
func (ln *Listener) Envelopes() <-chan bus.Envelope { return ln.envelopes }

// Connected reports whether a stream connection is currently open.
func (ln *Listener) Connected() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.connected
}

// Run connects and reads until ctx is cancelled (returns nil) or consecutive
// failed attempts exceed MaxAttempts (returns ErrReconnectExhausted).
// The attempt counter resets once a connection delivers a frame.
func (ln *Listener) Run(ctx context.Context) error {
	defer close(ln.envelopes)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		gotFrame, err := ln.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if gotFrame {
			failures = 0
		}
		failures++
		if failures > ln.cfg.MaxAttempts {
			return fmt.Errorf("%w: last error: %v", ErrReconnectExhausted, err)
		}

		delay := retry.Backoff(ln.cfg.BaseDelay, ln.cfg.MaxDelay, failures-1)
		slog.Warn("whop stream disconnected, reconnecting",
			"attempt", failures, "max_attempts", ln.cfg.MaxAttempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails. It reports whether any frame
// was received so the caller can reset its failure budget.
func (ln *Listener) session(ctx context.Context) (bool, error) {
	client, err := DialWS(ctx, ln.cfg.URL, ln.cfg.Token, ln.cfg.HTTPClient)
	if err != nil {
		return false, err
	}
	defer client.Close(1000, "")

	ln.setConnected(true)
	defer ln.setConnected(false)
	slog.Info("whop stream connected", "url", ln.cfg.URL)

	gotFrame := false
	for {
		readCtx, cancel := context.WithTimeout(ctx, ln.cfg.ReadDeadline)
		data, err := client.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("whop stream silent disconnect detected", "deadline", ln.cfg.ReadDeadline)
				return gotFrame, errors.New("read timeout (silent disconnect)")
			}
			ci := parseWSCloseInfo(err)
			return gotFrame, fmt.Errorf("stream closed: code=%d reason=%s", ci.Code, ci.Reason)
		}
		gotFrame = true

		env, err := DecodeEnvelope(data)
		if err != nil {
			if !errors.Is(err, ErrIgnoredFrame) {
				slog.Debug("dropping malformed stream frame", "error", err, "len", len(data))
			}
			continue
		}

		select {
		case ln.envelopes <- env:
		case <-ctx.Done():
			return gotFrame, ctx.Err()
		}
	}
}

func (ln *Listener) setConnected(v bool) {
	ln.mu.Lock()
	ln.connected = v
	ln.mu.Unlock()
}
