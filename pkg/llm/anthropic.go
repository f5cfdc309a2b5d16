package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicOption configures the AnthropicProvider.
type AnthropicOption func(*AnthropicProvider, *[]option.RequestOption)

// WithAnthropicModel sets the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider, _ *[]option.RequestOption) {
		p.model = model
	}
}

// WithAnthropicMaxTokens sets the maximum tokens for responses.
func WithAnthropicMaxTokens(tokens int64) AnthropicOption {
	return func(p *AnthropicProvider, _ *[]option.RequestOption) {
		p.maxTokens = tokens
	}
}

// WithAnthropicBaseURL sets a custom base URL.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(_ *AnthropicProvider, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, option.WithBaseURL(url))
	}
}

// WithAnthropicAPIKey sets the API key.
func WithAnthropicAPIKey(apiKey string) AnthropicOption {
	return func(_ *AnthropicProvider, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, option.WithAPIKey(apiKey))
	}
}

// NewAnthropic creates an Anthropic provider. The API key is read from
// ANTHROPIC_API_KEY by default. Request options accumulate so a base
// URL override and an explicit key combine into one client.
func NewAnthropic(opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		model:     "claude-sonnet-4-20250514",
		maxTokens: 8192,
	}
	var reqOpts []option.RequestOption
	for _, opt := range opts {
		opt(p, &reqOpts)
	}
	p.client = anthropic.NewClient(reqOpts...)
	return p
}

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	// Anthropic takes the system prompt out of band.
	var systemPrompt string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}

	var content string
	for _, block := range message.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// Ensure AnthropicProvider implements Provider.
var _ Provider = (*AnthropicProvider)(nil)
