package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

const defaultClaudeModel = "claude-3-5-haiku-latest"

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
	maxTokens    int
	temperature  float64
	retryConfig  retry.Config
}

// NewAnthropicProvider creates a new Anthropic provider. The SDK's own retries
// are disabled; retry.Do owns the policy.
func NewAnthropicProvider(opts Options) *AnthropicProvider {
	opts = opts.withDefaults()
	if opts.Model == "" {
		opts.Model = defaultClaudeModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}),
	}
	if opts.APIBase != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.APIBase, "/")+"/"))
	}
	client := anthropic.NewClient(reqOpts...)

	return &AnthropicProvider{
		client:       &client,
		defaultModel: opts.Model,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		retryConfig:  opts.Retry,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := retry.Do(ctx, p.retryConfig, func() (*CompletionResponse, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, convertAnthropicError(err)
		}
		return convertAnthropicResponse(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", rateLimited(err))
	}
	return resp, nil
}

func (p *AnthropicProvider) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	return params
}

func convertAnthropicResponse(msg *anthropic.Message) (*CompletionResponse, error) {
	var sb strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, retry.Permanent(ErrEmptyResponse)
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &CompletionResponse{
		Content:      content,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage:        &Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func convertAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &retry.HTTPError{Status: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}
