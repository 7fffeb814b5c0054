package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/agent"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/ingest"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/sessions"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/tenants"
)

const (
	botUserID  = "user_bot"
	adminID    = "user_admin"
	notice     = "This community has not set up the assistant yet."
	resetAck   = "Context cleared."
	resetCmd   = "!reset"
	botAnswer  = "Refunds within 48 hours."
	testTenant = "tenant_a"
)

type fakeEngine struct {
	mu     sync.Mutex
	calls  []agent.DecideRequest
	answer string
	delay  time.Duration
}

func (f *fakeEngine) Decide(_ context.Context, req agent.DecideRequest) (string, bool) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.answer, f.answer != ""
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEngine) last() agent.DecideRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeOutbound struct {
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	tracked map[string]bool
	err     error
	seq     atomic.Int32
}

func (f *fakeOutbound) Send(_ context.Context, msg bus.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	id := fmt.Sprintf("bot_msg_%d", f.seq.Add(1))
	f.tracked[id] = true
	return id, nil
}

func (f *fakeOutbound) IsTracked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[id]
}

func (f *fakeOutbound) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Content)
	}
	return out
}

type staticConfigs map[string]store.TenantConfig

func (s staticConfigs) Get(_ context.Context, tenantID string, _ bool) store.TenantConfig {
	if cfg, ok := s[tenantID]; ok {
		return cfg.WithDefaults()
	}
	return store.DefaultTenantConfig(tenantID)
}

type harness struct {
	coord    *Coordinator
	engine   *fakeEngine
	out      *fakeOutbound
	resolver *tenants.Resolver
	contexts *sessions.Manager
}

func newHarness(t *testing.T, configs staticConfigs) *harness {
	t.Helper()
	resolver := tenants.NewResolver(nil, nil, nil, tenants.BufferConfig{
		Size: 10, MaxAttempts: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second,
	})
	t.Cleanup(resolver.Close)

	h := &harness{
		engine:   &fakeEngine{answer: botAnswer},
		out:      &fakeOutbound{tracked: make(map[string]bool)},
		resolver: resolver,
		contexts: sessions.NewManager(20, time.Hour),
	}
	coord, err := NewCoordinator(Deps{
		Ingest:     ingest.NewDeduplicator(ingest.Config{BotUserID: botUserID, DuplicateWindow: 10 * time.Second}, resolver),
		Resolver:   resolver,
		Configs:    configs,
		Engine:     h.engine,
		Outbound:   h.out,
		Contexts:   h.contexts,
		Classifier: agent.HeuristicClassifier{BotUserID: botUserID, BotUsername: "helper"},
		Limiter:    channels.NewRateLimiter(),
	}, CoordinatorConfig{
		AdminUserID:          adminID,
		ResetCommand:         resetCmd,
		ResetAck:             resetAck,
		NotConfiguredMessage: notice,
		MaxConcurrent:        4,
		InflightGrace:        50 * time.Millisecond,
		FeedHistoryMaxAge:    time.Hour,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

func enabledTenant() staticConfigs {
	return staticConfigs{testTenant: {TenantID: testTenant, Enabled: true, KnowledgeBase: "Refunds within 48 hours."}}
}

func message(id, content string) bus.InboundMessage {
	return bus.InboundMessage{
		EntityID:       id,
		FeedID:         "chat_feed_1",
		ChannelGroupID: "cg_1",
		Content:        content,
		Author:         bus.Author{ID: "user_1", DisplayName: "Sam"},
		ReceivedAt:     time.Now(),
	}
}

func TestProcessAtMostOnceUnderConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, enabledTenant())
	h.engine.delay = 20 * time.Millisecond
	msg := message("p1", "how do refunds work?")

	var answered, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch h.coord.Process(context.Background(), msg, testTenant) {
			case OutcomeAnswered:
				answered.Add(1)
			case OutcomeDuplicate:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.engine.count())
	assert.EqualValues(t, 1, answered.Load())
	assert.EqualValues(t, 19, duplicates.Load())

	// Still done after the in-flight grace period lapses.
	require.Eventually(t, func() bool { return h.coord.InflightCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, OutcomeDuplicate, h.coord.Process(context.Background(), msg, testTenant))
	assert.Equal(t, 1, h.engine.count())
}

func TestBufferedMessageReachesEngineOnceAfterMapping(t *testing.T) {
	h := newHarness(t, enabledTenant())
	envelopes := make(chan bus.Envelope, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx, envelopes) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	envelopes <- bus.Envelope{Post: &bus.Post{
		EntityID: "p1", FeedID: "chat_feed_1", ChannelGroupID: "cg_1",
		Content: "how do refunds work?", Author: bus.Author{ID: "user_1", DisplayName: "Sam"},
	}}
	require.Eventually(t, func() bool { return h.resolver.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.engine.count())

	time.Sleep(1200 * time.Millisecond)
	envelopes <- bus.Envelope{Mapping: &bus.MappingAdvert{ChannelGroupID: "cg_1", TenantID: testTenant}}

	require.Eventually(t, func() bool { return h.engine.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, testTenant, h.engine.last().TenantID)
	assert.Equal(t, "p1", h.engine.last().Message.EntityID)

	// Later retry ticks and a repeated advertisement must not replay it.
	envelopes <- bus.Envelope{Mapping: &bus.MappingAdvert{ChannelGroupID: "cg_1", TenantID: testTenant}}
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, h.engine.count())
	assert.Equal(t, 0, h.resolver.PendingCount())
}

func TestKnownMappingProcessesDirectly(t *testing.T) {
	h := newHarness(t, enabledTenant())
	h.resolver.RegisterMapping(context.Background(), "cg_1", testTenant)

	post := &bus.Post{EntityID: "p1", FeedID: "chat_feed_1", ChannelGroupID: "cg_1", Content: "refunds?", Author: bus.Author{ID: "user_1"}}
	h.coord.HandleEnvelope(context.Background(), bus.Envelope{Post: post})
	h.coord.HandleEnvelope(context.Background(), bus.Envelope{Post: post})
	h.coord.Wait()

	assert.Equal(t, 1, h.engine.count())
	assert.Equal(t, []string{botAnswer}, h.out.messages())
}

func TestAnswerUpdatesContext(t *testing.T) {
	h := newHarness(t, enabledTenant())

	outcome := h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant)
	require.Equal(t, OutcomeAnswered, outcome)

	history := h.contexts.History(testTenant)
	require.Len(t, history, 2)
	assert.Equal(t, "how do refunds work?", history[0].Content)
	assert.False(t, history[0].IsBot)
	assert.Equal(t, botAnswer, history[1].Content)
	assert.True(t, history[1].IsBot)

	h.out.mu.Lock()
	sent := h.out.sent[0]
	h.out.mu.Unlock()
	assert.Equal(t, "chat_feed_1", sent.FeedID)
	assert.Equal(t, "p1", sent.ReplyToID)
}

func TestAdminResetBypassesEngine(t *testing.T) {
	h := newHarness(t, enabledTenant())
	h.contexts.Append(testTenant, sessions.Entry{Content: "old", Timestamp: time.Now()})

	msg := message("p1", resetCmd)
	msg.Author.ID = adminID
	assert.Equal(t, OutcomeReset, h.coord.Process(context.Background(), msg, testTenant))
	assert.Empty(t, h.contexts.History(testTenant))
	assert.Equal(t, []string{resetAck}, h.out.messages())
	assert.Equal(t, 0, h.engine.count())

	// The same text from anyone else is an ordinary message.
	other := message("p2", resetCmd)
	assert.NotEqual(t, OutcomeReset, h.coord.Process(context.Background(), other, testTenant))
}

func TestDisabledTenant(t *testing.T) {
	h := newHarness(t, staticConfigs{})

	assert.Equal(t, OutcomeDisabled, h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant))
	assert.Empty(t, h.out.messages())

	assert.Equal(t, OutcomeNotConfigured, h.coord.Process(context.Background(), message("p2", "@helper refunds?"), testTenant))
	assert.Equal(t, []string{notice}, h.out.messages())
	assert.Equal(t, 0, h.engine.count())
}

func TestForceMentionOnly(t *testing.T) {
	cfgs := enabledTenant()
	cfg := cfgs[testTenant]
	cfg.ForceMentionOnly = true
	cfgs[testTenant] = cfg
	h := newHarness(t, cfgs)

	assert.Equal(t, OutcomeMentionOnly, h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant))
	assert.Equal(t, OutcomeAnswered, h.coord.Process(context.Background(), message("p2", "@helper how do refunds work?"), testTenant))
	assert.True(t, h.engine.last().ForceRespond)
}

func TestReplyToBotForcesResponse(t *testing.T) {
	h := newHarness(t, enabledTenant())
	require.Equal(t, OutcomeAnswered, h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant))
	assert.False(t, h.engine.last().ForceRespond)

	reply := message("p2", "and for annual plans?")
	reply.ReplyToID = "bot_msg_1"
	h.coord.Process(context.Background(), reply, testTenant)
	assert.True(t, h.engine.last().ForceRespond)

	statement := message("p3", "thanks a lot")
	statement.ReplyToID = "bot_msg_1"
	h.coord.Process(context.Background(), statement, testTenant)
	assert.False(t, h.engine.last().ForceRespond)

	stranger := message("p4", "what about you?")
	stranger.ReplyToID = "someone_else"
	h.coord.Process(context.Background(), stranger, testTenant)
	assert.False(t, h.engine.last().ForceRespond)
}

func TestNoAnswerForcedUnconfiguredSendsNotice(t *testing.T) {
	h := newHarness(t, staticConfigs{testTenant: {TenantID: testTenant, Enabled: true}})
	h.engine.answer = ""

	assert.Equal(t, OutcomeNoAnswer, h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant))
	assert.Empty(t, h.out.messages())

	assert.Equal(t, OutcomeNotConfigured, h.coord.Process(context.Background(), message("p2", "@helper refunds?"), testTenant))
	assert.Equal(t, []string{notice}, h.out.messages())
}

func TestSendFailureLeavesContextUntouched(t *testing.T) {
	h := newHarness(t, enabledTenant())
	h.out.err = errors.New("platform down")

	assert.Equal(t, OutcomeSendFailed, h.coord.Process(context.Background(), message("p1", "how do refunds work?"), testTenant))
	assert.Empty(t, h.contexts.History(testTenant))
}

func TestMaintenanceAndScheduler(t *testing.T) {
	h := newHarness(t, enabledTenant())
	report := h.coord.RunMaintenance(context.Background())
	assert.Equal(t, 0, report.Contexts)

	s, err := NewScheduler(context.Background(), h.coord, "@every 1m", "@every 10m")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())
	s.Start()
	s.Stop()

	_, err = NewScheduler(context.Background(), h.coord, "not a schedule", "")
	assert.Error(t, err)

	// No directory configured: reconcile is a no-op.
	assert.NoError(t, h.coord.Reconcile(context.Background()))
}
