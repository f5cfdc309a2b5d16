package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// chat-completion endpoints (OpenRouter, Groq, DeepSeek, ...) via a
// base URL override.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// OpenAIOption configures the OpenAIProvider.
type OpenAIOption func(*OpenAIProvider, *[]option.RequestOption)

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider, _ *[]option.RequestOption) {
		p.model = model
	}
}

// WithOpenAIBaseURL points the client at a compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(_ *OpenAIProvider, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, option.WithBaseURL(url))
	}
}

// WithOpenAIAPIKey sets the API key.
func WithOpenAIAPIKey(apiKey string) OpenAIOption {
	return func(_ *OpenAIProvider, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, option.WithAPIKey(apiKey))
	}
}

// NewOpenAI creates an OpenAI provider. The API key is read from
// OPENAI_API_KEY by default.
func NewOpenAI(opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{model: "gpt-5-mini"}
	var reqOpts []option.RequestOption
	for _, opt := range opts {
		opt(p, &reqOpts)
	}
	p.client = openai.NewClient(reqOpts...)
	return p
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &ChatResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// Ensure OpenAIProvider implements Provider.
var _ Provider = (*OpenAIProvider)(nil)
