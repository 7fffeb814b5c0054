package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/agent"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/config"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/providers"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

func buildProvider(cfg *config.Config) (providers.Provider, error) {
	rc := retry.DefaultConfig()
	if cfg.Provider.RetryAttempts > 0 {
		rc.Attempts = cfg.Provider.RetryAttempts
	}
	p, err := providers.New(cfg.Provider.Name, providers.Options{
		Model:       cfg.Provider.Model,
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Timeout:     cfg.Provider.Timeout.D(),
		Retry:       rc,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", cfg.Provider.Name, err)
	}
	slog.Info("registered provider", "name", p.Name(), "model", p.DefaultModel())
	return p, nil
}

func buildEngine(cfg *config.Config, p providers.Provider, limiter *channels.RateLimiter, answers *agent.AnswerCache) *agent.Engine {
	classifier := agent.HeuristicClassifier{
		BotUserID:   cfg.Platform.BotUserID,
		BotUsername: cfg.Platform.BotUsername,
	}
	return agent.NewEngine(p, limiter, classifier, answers, agent.EngineConfig{
		AICallsPerWindow:  cfg.Limits.AICallsPerMin,
		Window:            time.Minute,
		Model:             cfg.Provider.Model,
		ClassifierModel:   cfg.Provider.ClassifierModel,
		MaxTokens:         cfg.Provider.MaxTokens,
		Temperature:       cfg.Provider.Temperature,
		DeflectionMessage: cfg.Bot.DeflectionMessage,
	})
}

// cacheInvalidator fans a tenant config change out to every cache derived from it.
type cacheInvalidator struct {
	configs interface{ Invalidate(string) }
	answers *agent.AnswerCache
}

func (c cacheInvalidator) Invalidate(tenantID string) {
	if c.configs != nil {
		c.configs.Invalidate(tenantID)
	}
	c.answers.InvalidateTenant(tenantID)
}
