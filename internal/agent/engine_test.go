package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/providers"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// fakeProvider answers triage prompts with triage and everything else with answer.
type fakeProvider struct {
	mu       sync.Mutex
	triage   string
	answer   string
	err      error
	requests []providers.CompletionRequest
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) Complete(_ context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if req.SystemPrompt == classifyPrompt {
		return &providers.CompletionResponse{Content: f.triage}, nil
	}
	return &providers.CompletionResponse{Content: f.answer}, nil
}

func (f *fakeProvider) calls() []providers.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.CompletionRequest(nil), f.requests...)
}

const deflection = "I can't answer that reliably right now. Please ask an admin."

func newTestEngine(t *testing.T, p providers.Provider, aiPerWindow int) *Engine {
	t.Helper()
	answers, err := NewAnswerCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(answers.Close)
	return NewEngine(p, channels.NewRateLimiter(), HeuristicClassifier{BotUsername: "helper"}, answers, EngineConfig{
		AICallsPerWindow:  aiPerWindow,
		Window:            time.Minute,
		DeflectionMessage: deflection,
	})
}

func request(content string, cfg store.TenantConfig, force bool) DecideRequest {
	return DecideRequest{
		Message:      bus.InboundMessage{EntityID: "p1", FeedID: "chat_feed_1", Content: content, Author: bus.Author{ID: "u1", DisplayName: "Sam"}},
		TenantID:     "tenant_a",
		Config:       cfg.WithDefaults(),
		ForceRespond: force,
	}
}

func kbConfig(kb string) store.TenantConfig {
	return store.TenantConfig{TenantID: "tenant_a", Enabled: true, KnowledgeBase: kb}
}

func TestDecidePresetShortCircuitsAI(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "from the model"}
	e := newTestEngine(t, p, 10)
	cfg := store.TenantConfig{
		TenantID: "tenant_a",
		Enabled:  true,
		PresetQA: []store.PresetQA{{Question: "refund policy", Answer: "48 hours", Enabled: true}},
	}

	answer, ok := e.Decide(context.Background(), request("what's the refund policy", cfg, false))
	require.True(t, ok)
	assert.Equal(t, "48 hours", answer)
	assert.Empty(t, p.calls())
}

func TestDecidePresetNotBlendedWithKnowledgeBase(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "Refunds take 7 days per the docs."}
	e := newTestEngine(t, p, 10)
	cfg := kbConfig("Refunds are processed within 7 days.")
	cfg.PresetQA = []store.PresetQA{{Question: "How do refunds work?", Answer: "Open a ticket in #billing.", Enabled: true}}

	answer, source := e.DecideWithSource(context.Background(), request("how do refunds work", cfg, false))
	assert.Equal(t, SourcePreset, source)
	assert.Equal(t, "Open a ticket in #billing.", answer)
	assert.Empty(t, p.calls())
}

func TestDecideSkipsNonQuestions(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "hello"}
	e := newTestEngine(t, p, 10)

	_, ok := e.Decide(context.Background(), request("gm everyone", kbConfig("We sell hats."), false))
	assert.False(t, ok)
	assert.Empty(t, p.calls())
}

func TestDecideAnswersFromKnowledgeBase(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "Refunds are available within 48 hours of purchase."}
	e := newTestEngine(t, p, 10)
	req := request("how long do I have to get a refund?", kbConfig("Refunds are available within 48 hours of purchase."), false)
	req.ContextText = "Sam: hi"

	answer, source := e.DecideWithSource(context.Background(), req)
	assert.Equal(t, SourceAI, source)
	assert.Equal(t, "Refunds are available within 48 hours of purchase.", answer)

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, classifyPrompt, calls[0].SystemPrompt)
	assert.Contains(t, calls[1].SystemPrompt, "Refunds are available within 48 hours")
	assert.Contains(t, calls[1].SystemPrompt, "Only use facts explicitly stated")
	assert.Contains(t, calls[1].SystemPrompt, "Sam: hi")
	assert.Contains(t, calls[1].UserPrompt, "how long do I have to get a refund?")
}

func TestDecideCachesAnswers(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "Shipping takes 5 days."}
	e := newTestEngine(t, p, 10)
	cfg := kbConfig("Shipping takes 5 days.")

	_, source := e.DecideWithSource(context.Background(), request("How long is shipping?", cfg, false))
	require.Equal(t, SourceAI, source)
	e.answers.Wait()

	answer, source := e.DecideWithSource(context.Background(), request("how long is shipping", cfg, false))
	assert.Equal(t, SourceCache, source)
	assert.Equal(t, "Shipping takes 5 days.", answer)
	assert.Len(t, p.calls(), 2)

	e.answers.InvalidateTenant("tenant_a")
	_, source = e.DecideWithSource(context.Background(), request("how long is shipping?", cfg, false))
	assert.Equal(t, SourceAI, source)
}

func TestDecideFiltersApologies(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "Sorry, I can't help with that."}
	e := newTestEngine(t, p, 10)

	answer, ok := e.Decide(context.Background(), request("can you fix my router?", kbConfig("We sell hats."), false))
	assert.False(t, ok)
	assert.Empty(t, answer)
}

func TestDecideDropsNoAnswerToken(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "NO_ANSWER"}
	e := newTestEngine(t, p, 10)

	_, ok := e.Decide(context.Background(), request("what is the capital of France?", kbConfig("We sell hats."), true))
	assert.False(t, ok)
}

func TestDecideContradictoryKnowledgeBase(t *testing.T) {
	kb := "Refunds are available within 48 hours. Refunds are available within 24 hours."

	t.Run("withheld", func(t *testing.T) {
		p := &fakeProvider{triage: "YES", answer: "48 hours"}
		e := newTestEngine(t, p, 10)
		_, ok := e.Decide(context.Background(), request("how long do refunds take?", kbConfig(kb), false))
		assert.False(t, ok)
		for _, c := range p.calls() {
			assert.Equal(t, classifyPrompt, c.SystemPrompt)
		}
	})

	t.Run("forced gets deflection", func(t *testing.T) {
		p := &fakeProvider{answer: "48 hours"}
		e := newTestEngine(t, p, 10)
		answer, source := e.DecideWithSource(context.Background(), request("@helper refunds?", kbConfig(kb), true))
		assert.Equal(t, SourceDeflection, source)
		assert.Equal(t, deflection, answer)
		assert.Empty(t, p.calls())
	})
}

func TestDecideTriage(t *testing.T) {
	t.Run("negative stops", func(t *testing.T) {
		p := &fakeProvider{triage: "NO.", answer: "We sell hats."}
		e := newTestEngine(t, p, 10)
		_, ok := e.Decide(context.Background(), request("why is everyone so quiet today?", kbConfig("We sell hats."), false))
		assert.False(t, ok)
		assert.Len(t, p.calls(), 1)
	})

	t.Run("forced skips triage", func(t *testing.T) {
		p := &fakeProvider{triage: "NO", answer: "We sell hats."}
		e := newTestEngine(t, p, 10)
		answer, ok := e.Decide(context.Background(), request("what do you sell", kbConfig("We sell hats."), true))
		assert.True(t, ok)
		assert.Equal(t, "We sell hats.", answer)
		assert.Len(t, p.calls(), 1)
	})
}

func TestDecideProviderFailureIsSilent(t *testing.T) {
	p := &fakeProvider{err: errors.New("upstream down")}
	e := newTestEngine(t, p, 10)

	_, ok := e.Decide(context.Background(), request("what do you sell?", kbConfig("We sell hats."), false))
	assert.False(t, ok)
	// Triage failed permissively, so generation was still attempted.
	assert.Len(t, p.calls(), 2)
}

func TestDecideRespectsAIRateLimit(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "We sell hats."}
	e := newTestEngine(t, p, 1)

	_, ok := e.Decide(context.Background(), request("what do you sell?", kbConfig("We sell hats."), false))
	assert.False(t, ok)
	assert.Len(t, p.calls(), 1, "triage used the only call in the window")
}

func TestDecideEmptyKnowledgeBaseSkipsAI(t *testing.T) {
	p := &fakeProvider{triage: "YES", answer: "anything"}
	e := newTestEngine(t, p, 10)

	_, ok := e.Decide(context.Background(), request("what do you sell?", store.TenantConfig{Enabled: true}, true))
	assert.False(t, ok)
	assert.Empty(t, p.calls())
}
