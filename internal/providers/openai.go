package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs
// (OpenAI, Groq, OpenRouter, DeepSeek, vLLM, etc.)
type OpenAIProvider struct {
	name         string
	client       *openai.Client
	defaultModel string
	maxTokens    int
	temperature  float64
	retryConfig  retry.Config
}

func NewOpenAIProvider(name string, opts Options) *OpenAIProvider {
	opts = opts.withDefaults()
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.APIBase != "" {
		cfg.BaseURL = strings.TrimRight(opts.APIBase, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &OpenAIProvider{
		name:         name,
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: opts.Model,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		retryConfig:  opts.Retry,
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// resolveModel returns the model ID to use for a request.
// OpenRouter model IDs need a vendor prefix; unprefixed names fall back to the default.
func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	creq := p.buildRequest(req)

	resp, err := retry.Do(ctx, p.retryConfig, func() (*CompletionResponse, error) {
		out, err := p.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			return nil, convertOpenAIError(err)
		}
		return p.parseResponse(out)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, rateLimited(err))
	}
	return resp, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	return openai.ChatCompletionRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, retry.Permanent(ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// convertOpenAIError maps client errors onto retry.HTTPError so the retry
// policy can tell transient failures from final ones.
func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &retry.HTTPError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &retry.HTTPError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
