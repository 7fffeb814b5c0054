// Package gateway ties ingestion, tenant resolution, the decision engine and
// outbound sends together, and hosts the admin HTTP server.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/agent"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/ingest"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/sessions"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/tenants"
)

// Outcome is what happened to one message.
type Outcome string

const (
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeReset         Outcome = "reset"
	OutcomeDisabled      Outcome = "disabled"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeMentionOnly   Outcome = "mention_only"
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeAnswered      Outcome = "answered"
	OutcomeSendFailed    Outcome = "send_failed"
)

// Engine produces an answer for a message, or nothing.
type Engine interface {
	Decide(ctx context.Context, req agent.DecideRequest) (string, bool)
}

// Outbound sends replies and remembers which message ids the bot authored.
type Outbound interface {
	Send(ctx context.Context, msg bus.OutboundMessage) (string, error)
	IsTracked(messageID string) bool
}

// ConfigSource returns a tenant's configuration with defaults applied.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string, forceRefresh bool) store.TenantConfig
}

// Sweeper drops expired rate-limit windows.
type Sweeper interface {
	Sweep() int
}

// CoordinatorConfig holds the bot-level behavior knobs.
type CoordinatorConfig struct {
	AdminUserID          string
	ResetCommand         string
	ResetAck             string
	NotConfiguredMessage string
	MaxConcurrent        int
	InflightGrace        time.Duration
	CompletedKeys        int
	FeedHistoryMaxAge    time.Duration
}

// Deps are the components the coordinator drives. All mutable state lives in
// them; the coordinator itself only tracks in-flight work.
type Deps struct {
	Ingest     *ingest.Deduplicator
	Resolver   *tenants.Resolver
	Configs    ConfigSource
	Engine     Engine
	Outbound   Outbound
	Contexts   *sessions.Manager
	Classifier agent.Classifier
	Limiter    Sweeper
}

// Coordinator processes each accepted message at most once: a message is
// pending while buffered for its mapping, processing while claimed in the
// in-flight set, and done once its key lands in the completed set.
type Coordinator struct {
	deps   Deps
	cfg    CoordinatorConfig
	sem    *semaphore.Weighted
	tracer trace.Tracer

	mu        sync.Mutex
	inflight  map[string]struct{}
	completed *lru.Cache[string, struct{}]

	wg sync.WaitGroup
}

// NewCoordinator checks that every required component is present and fills
// zero-valued limits with their defaults. A nil Classifier gets the
// heuristic one.
func NewCoordinator(deps Deps, cfg CoordinatorConfig) (*Coordinator, error) {
	if deps.Ingest == nil || deps.Resolver == nil || deps.Configs == nil || deps.Engine == nil ||
		deps.Outbound == nil || deps.Contexts == nil {
		return nil, errors.New("coordinator: missing component")
	}
	if deps.Classifier == nil {
		deps.Classifier = agent.HeuristicClassifier{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.InflightGrace <= 0 {
		cfg.InflightGrace = 30 * time.Second
	}
	if cfg.CompletedKeys <= 0 {
		cfg.CompletedKeys = 10000
	}
	completed, err := lru.New[string, struct{}](cfg.CompletedKeys)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		deps:      deps,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		tracer:    otel.Tracer("supportbot/gateway"),
		inflight:  make(map[string]struct{}),
		completed: completed,
	}, nil
}

// Run consumes stream envelopes and mapping-resolved events until ctx is
// cancelled or the envelope channel closes, then waits for in-flight work.
func (c *Coordinator) Run(ctx context.Context, envelopes <-chan bus.Envelope) error {
	defer c.wg.Wait()
	events := c.deps.Resolver.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-envelopes:
			if !ok {
				return nil
			}
			c.HandleEnvelope(ctx, env)
		case ev := <-events:
			c.replay(ctx, ev)
		}
	}
}

// HandleEnvelope ingests one envelope and dispatches the resulting message.
func (c *Coordinator) HandleEnvelope(ctx context.Context, env bus.Envelope) {
	msg := c.deps.Ingest.Ingest(ctx, env)
	if msg == nil {
		return
	}
	tenantID, ok := c.deps.Resolver.Resolve(msg.ChannelGroupID)
	if !ok {
		c.deps.Resolver.BufferMessage(*msg)
		return
	}
	c.spawn(ctx, *msg, tenantID)
}

// replay hands buffered messages to workers once their mapping is known.
func (c *Coordinator) replay(ctx context.Context, ev bus.MappingEvent) {
	msgs := c.deps.Resolver.TakeBuffered(ev.ChannelGroupID)
	if len(msgs) == 0 {
		return
	}
	slog.Info("replaying buffered messages",
		"channel_group_id", ev.ChannelGroupID, "tenant_id", ev.TenantID, "count", len(msgs))
	for _, m := range msgs {
		c.spawn(ctx, m, ev.TenantID)
	}
}

// spawn processes msg on its own goroutine, bounded by MaxConcurrent.
func (c *Coordinator) spawn(ctx context.Context, msg bus.InboundMessage, tenantID string) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		c.Process(ctx, msg, tenantID)
	}()
}

// Wait blocks until every spawned message has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Process runs one message through the pipeline for tenantID.
func (c *Coordinator) Process(ctx context.Context, msg bus.InboundMessage, tenantID string) Outcome {
	key := msg.Key()
	if !c.claim(key) {
		slog.Debug("message already claimed", "entity_id", msg.EntityID, "feed_id", msg.FeedID)
		return OutcomeDuplicate
	}
	defer c.finish(key)

	ctx, span := c.tracer.Start(ctx, "gateway.process", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("message.entity_id", msg.EntityID),
		attribute.String("message.feed_id", msg.FeedID),
	))
	defer span.End()

	outcome := c.process(ctx, msg, tenantID)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	slog.Debug("message processed",
		"tenant_id", tenantID, "entity_id", msg.EntityID, "feed_id", msg.FeedID, "outcome", outcome)
	return outcome
}

func (c *Coordinator) process(ctx context.Context, msg bus.InboundMessage, tenantID string) Outcome {
	content := strings.TrimSpace(msg.Content)

	if c.isResetCommand(msg.Author.ID, content) {
		c.deps.Contexts.Reset(tenantID)
		slog.Info("conversation context reset", "tenant_id", tenantID, "by", msg.Author.ID)
		if c.cfg.ResetAck != "" {
			c.send(ctx, msg, c.cfg.ResetAck)
		}
		return OutcomeReset
	}

	cfg := c.deps.Configs.Get(ctx, tenantID, false)
	force := c.forceRespond(msg)

	if !cfg.Enabled {
		if force {
			c.sendNotice(ctx, msg)
			return OutcomeNotConfigured
		}
		return OutcomeDisabled
	}
	if cfg.ForceMentionOnly && !force {
		return OutcomeMentionOnly
	}

	answer, ok := c.deps.Engine.Decide(ctx, agent.DecideRequest{
		Message:      msg,
		TenantID:     tenantID,
		Config:       cfg,
		ContextText:  c.deps.Contexts.FormatContext(tenantID),
		ForceRespond: force,
	})
	if !ok {
		if force && !cfg.HasContent() {
			c.sendNotice(ctx, msg)
			return OutcomeNotConfigured
		}
		return OutcomeNoAnswer
	}

	if _, err := c.send(ctx, msg, answer); err != nil {
		return OutcomeSendFailed
	}
	now := time.Now()
	c.deps.Contexts.Append(tenantID,
		sessions.Entry{Content: content, Author: msg.Author.DisplayName, Timestamp: msg.ReceivedAt},
		sessions.Entry{Content: answer, IsBot: true, Timestamp: now},
	)
	return OutcomeAnswered
}

func (c *Coordinator) isResetCommand(authorID, content string) bool {
	return c.cfg.AdminUserID != "" && c.cfg.ResetCommand != "" &&
		authorID == c.cfg.AdminUserID && content == c.cfg.ResetCommand
}

// forceRespond is true for direct mentions and for question-like replies to
// a message the bot sent.
func (c *Coordinator) forceRespond(msg bus.InboundMessage) bool {
	if c.deps.Classifier.MentionsBot(msg.Content) {
		return true
	}
	return msg.ReplyToID != "" && c.deps.Outbound.IsTracked(msg.ReplyToID) &&
		c.deps.Classifier.LooksLikeQuestion(msg.Content)
}

func (c *Coordinator) sendNotice(ctx context.Context, msg bus.InboundMessage) {
	if c.cfg.NotConfiguredMessage == "" {
		return
	}
	c.send(ctx, msg, c.cfg.NotConfiguredMessage)
}

func (c *Coordinator) send(ctx context.Context, msg bus.InboundMessage, text string) (string, error) {
	id, err := c.deps.Outbound.Send(ctx, bus.OutboundMessage{
		FeedID:    msg.FeedID,
		Content:   text,
		ReplyToID: msg.EntityID,
	})
	if err != nil {
		if errors.Is(err, channels.ErrSendRateLimited) {
			slog.Debug("reply dropped by send limit", "feed_id", msg.FeedID, "entity_id", msg.EntityID)
		} else {
			slog.Warn("reply send failed", "feed_id", msg.FeedID, "entity_id", msg.EntityID, "error", err)
		}
		return "", err
	}
	return id, nil
}

// claim marks key in flight. It fails when the key is already in flight or
// was completed recently.
func (c *Coordinator) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	if c.completed.Contains(key) {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

// finish records key as done and clears the in-flight marker after the grace delay.
func (c *Coordinator) finish(key string) {
	c.mu.Lock()
	c.completed.Add(key, struct{}{})
	c.mu.Unlock()

	time.AfterFunc(c.cfg.InflightGrace, func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	})
}

// InflightCount returns the number of claimed keys still inside their grace period.
func (c *Coordinator) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
