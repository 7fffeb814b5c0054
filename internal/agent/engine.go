// Package agent decides whether and how the bot answers a chat message.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/providers"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// Limiter is the shared fixed-window rate limiter.
type Limiter interface {
	Allow(key string, maxPerWindow int, window time.Duration) bool
}

// EngineConfig tunes the AI path.
type EngineConfig struct {
	AICallsPerWindow  int
	Window            time.Duration
	Model             string
	ClassifierModel   string
	MaxTokens         int
	Temperature       float64
	DeflectionMessage string
}

// DecideRequest carries everything the engine needs for one message.
type DecideRequest struct {
	Message      bus.InboundMessage
	TenantID     string
	Config       store.TenantConfig
	ContextText  string
	ForceRespond bool
}

// Source names the pipeline step that produced an answer.
type Source string

const (
	SourcePreset     Source = "preset"
	SourceCache      Source = "cache"
	SourceDeflection Source = "deflection"
	SourceAI         Source = "ai"
)

// Engine is the ordered question-answering pipeline. It is safe for
// concurrent use; all mutable state lives in the limiter and answer cache.
type Engine struct {
	provider   providers.Provider
	limiter    Limiter
	classifier Classifier
	answers    *AnswerCache
	cfg        EngineConfig
	tracer     trace.Tracer
}

func NewEngine(p providers.Provider, limiter Limiter, classifier Classifier, answers *AnswerCache, cfg EngineConfig) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.AICallsPerWindow <= 0 {
		cfg.AICallsPerWindow = 20
	}
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = cfg.Model
	}
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	return &Engine{
		provider:   p,
		limiter:    limiter,
		classifier: classifier,
		answers:    answers,
		cfg:        cfg,
		tracer:     otel.Tracer("supportbot/agent"),
	}
}

// Decide runs the pipeline and returns the answer to post, if any:
//
//  1. not forced and not a question: nothing
//  2. enabled preset match: the preset answer verbatim
//  3. cached answer for the normalized question
//  4. not forced: AI triage; a negative verdict ends here, a failure does not
//  5. contradictory numbers in the knowledge base: nothing, or the deflection when forced
//  6. AI answer grounded on the knowledge base and recent context
//  7. refusals and empty output are dropped
//  8. the answer is cached
//
// Without a knowledge base there is nothing to ground an answer on, so steps
// 4 to 8 are skipped.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (string, bool) {
	answer, source := e.decide(ctx, req)
	if source == "" {
		return "", false
	}
	return answer, true
}

// DecideWithSource is Decide plus the step that produced the answer.
func (e *Engine) DecideWithSource(ctx context.Context, req DecideRequest) (string, Source) {
	return e.decide(ctx, req)
}

func (e *Engine) decide(ctx context.Context, req DecideRequest) (string, Source) {
	ctx, span := e.tracer.Start(ctx, "agent.decide", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("message.entity_id", req.Message.EntityID),
		attribute.Bool("force_respond", req.ForceRespond),
	))
	defer span.End()

	answer, source, step := e.run(ctx, req)
	span.SetAttributes(attribute.String("decision.step", step), attribute.String("decision.source", string(source)))
	slog.Debug("decision",
		"tenant_id", req.TenantID, "entity_id", req.Message.EntityID,
		"force", req.ForceRespond, "step", step, "source", source)
	return answer, source
}

func (e *Engine) run(ctx context.Context, req DecideRequest) (string, Source, string) {
	content := strings.TrimSpace(req.Message.Content)
	cfg := req.Config

	if !req.ForceRespond && !e.classifier.LooksLikeQuestion(content) {
		return "", "", "not_question"
	}

	if answer, ok := matchPreset(cfg.PresetQA, content); ok {
		return answer, SourcePreset, "preset"
	}

	question := NormalizeQuestion(content)
	if answer, ok := e.answers.Get(req.TenantID, question); ok {
		return answer, SourceCache, "cache"
	}

	if strings.TrimSpace(cfg.KnowledgeBase) == "" {
		return "", "", "no_knowledge_base"
	}

	if !req.ForceRespond && !e.triage(ctx, req.TenantID, content) {
		return "", "", "triage_negative"
	}

	if conflicts := FindContradictions(cfg.KnowledgeBase); len(conflicts) > 0 {
		slog.Warn("knowledge base has contradictory facts, withholding answer",
			"tenant_id", req.TenantID, "conflicts", len(conflicts),
			"first_unit", conflicts[0].Unit, "first_context", conflicts[0].Context)
		if req.ForceRespond && e.cfg.DeflectionMessage != "" {
			return e.cfg.DeflectionMessage, SourceDeflection, "contradiction"
		}
		return "", "", "contradiction"
	}

	answer, err := e.generate(ctx, req)
	if err != nil {
		slog.Warn("answer generation failed", "tenant_id", req.TenantID, "error", err)
		return "", "", "ai_error"
	}

	answer = SanitizeAnswer(answer)
	if answer == "" {
		return "", "", "empty"
	}
	if IsRefusal(answer) {
		slog.Debug("dropping refusal answer", "tenant_id", req.TenantID, "answer", answer)
		return "", "", "refusal"
	}

	e.answers.Set(req.TenantID, question, answer)
	return answer, SourceAI, "ai"
}

// errAIRateLimited is returned by callAI when the tenant's AI budget is spent.
var errAIRateLimited = errors.New("tenant ai budget exhausted")

// triage asks the model whether the message needs a support answer. Any
// failure is permissive.
func (e *Engine) triage(ctx context.Context, tenantID, content string) bool {
	ctx, span := e.tracer.Start(ctx, "agent.triage")
	defer span.End()

	out, err := e.callAI(ctx, tenantID, providers.CompletionRequest{
		SystemPrompt: classifyPrompt,
		UserPrompt:   content,
		Model:        e.cfg.ClassifierModel,
		MaxTokens:    3,
	})
	if err != nil {
		span.RecordError(err)
		slog.Debug("triage unavailable, continuing", "tenant_id", tenantID, "error", err)
		return true
	}
	verdict := strings.ToUpper(strings.TrimSpace(out))
	return !strings.HasPrefix(verdict, "NO")
}

func (e *Engine) generate(ctx context.Context, req DecideRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "agent.generate")
	defer span.End()

	out, err := e.callAI(ctx, req.TenantID, providers.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(req.Config, req.ContextText),
		UserPrompt:   buildUserPrompt(req.Message.Author.DisplayName, req.Message.Content),
		Model:        e.cfg.Model,
		MaxTokens:    e.cfg.MaxTokens,
		Temperature:  e.cfg.Temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	return out, nil
}

// callAI spends one unit of the tenant's AI budget on a completion.
func (e *Engine) callAI(ctx context.Context, tenantID string, req providers.CompletionRequest) (string, error) {
	if e.provider == nil {
		return "", errors.New("no ai provider configured")
	}
	if e.limiter != nil && !e.limiter.Allow(channels.AIKey(tenantID), e.cfg.AICallsPerWindow, e.cfg.Window) {
		return "", errAIRateLimited
	}
	resp, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
