// Package providers wraps the AI completion backends behind one small interface.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

var (
	// ErrRateLimited is returned when the upstream still answers 429 after retries.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrEmptyResponse is returned when the upstream produced no text.
	ErrEmptyResponse = errors.New("provider returned no content")
)

// Provider produces a single completion for a system and user prompt.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// DefaultModel returns the model used when the request does not name one.
	DefaultModel() string

	// Name returns the provider identifier ("openai", "anthropic", ...).
	Name() string
}

// CompletionRequest is the input for Complete. Zero MaxTokens and
// Temperature fall back to the provider's configured values.
type CompletionRequest struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a Complete call.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Options configures a provider.
type Options struct {
	Model       string
	APIKey      string
	APIBase     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       retry.Config
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Retry.Attempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	return o
}

// New builds the provider named by name.
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "", "openai":
		return NewOpenAIProvider("openai", opts), nil
	case "openrouter", "groq", "deepseek", "vllm":
		if opts.APIBase == "" {
			return nil, fmt.Errorf("provider %q requires an api base", name)
		}
		return NewOpenAIProvider(name, opts), nil
	case "anthropic":
		return NewAnthropicProvider(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// rateLimited tags an exhausted 429 with ErrRateLimited.
func rateLimited(err error) error {
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == 429 {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return err
}
