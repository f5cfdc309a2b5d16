package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// Gateway sends assembled context plus user text to the provider and
// parses the structured response. It never retries: retry policy
// belongs to the external wiring layer.
type Gateway struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float64
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithModel overrides the provider's default model.
func WithModel(model string) GatewayOption {
	return func(g *Gateway) { g.model = model }
}

// WithMaxTokens caps response length.
func WithMaxTokens(n int) GatewayOption {
	return func(g *Gateway) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GatewayOption {
	return func(g *Gateway) { g.temperature = t }
}

// NewGateway creates a gateway over the given provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result is one completed gateway call. ParseErr is set when the
// response looked structured but could not be parsed; the reply then
// carries the raw body and Actions is empty.
type Result struct {
	Payload
	Usage    Usage
	ParseErr error
}

// Complete sends one request. Provider failures surface as
// MODEL_UNAVAILABLE; parse failures degrade to a plain-text reply.
func (g *Gateway) Complete(ctx context.Context, systemPrompt, userText string) (Result, error) {
	resp, err := g.chat(ctx, systemPrompt, userText)
	if err != nil {
		return Result{}, err
	}

	payload, parseErr := ParsePayload(resp.Content)
	if parseErr != nil {
		// Never execute what we cannot parse; the raw body becomes the reply.
		return Result{
			Payload:  Payload{Reply: resp.Content},
			Usage:    resp.Usage,
			ParseErr: parseErr,
		}, nil
	}
	return Result{Payload: payload, Usage: resp.Usage}, nil
}

// Summarize asks the provider for a consolidation summary of the given
// log text. The response is used verbatim as document content.
func (g *Gateway) Summarize(ctx context.Context, instructions, logText string) (string, error) {
	resp, err := g.chat(ctx, instructions, logText)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

const translateInstructions = `You translate intent-level skill steps into concrete shell
commands. Respond with a JSON array of strings, exactly one shell
command per step, in step order. Respond with nothing but the array.`

// TranslateSteps turns a skill's intent-level steps into concrete
// shell commands, one per step. The response must be a JSON array of
// exactly len(steps) strings; anything else is a PARSE_FAILURE and no
// command from it may run.
func (g *Gateway) TranslateSteps(ctx context.Context, name string, steps []string, body string) ([]string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Skill: %s\n", name)
	if body != "" {
		fmt.Fprintf(&sb, "Notes:\n%s\n", body)
	}
	sb.WriteString("Steps:\n")
	for i, step := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}

	resp, err := g.chat(ctx, translateInstructions, sb.String())
	if err != nil {
		return nil, err
	}

	candidate := strings.TrimSpace(resp.Content)
	if idx := strings.Index(candidate, "["); idx >= 0 {
		if end := strings.LastIndex(candidate, "]"); end > idx {
			candidate = candidate[idx : end+1]
		}
	}
	var commands []string
	if err := json.Unmarshal([]byte(candidate), &commands); err != nil {
		return nil, errors.Wrap(errors.CodeParseFailure, "step translation is not a JSON array", err)
	}
	if len(commands) != len(steps) {
		return nil, errors.New(errors.CodeParseFailure,
			fmt.Sprintf("step translation returned %d commands for %d steps", len(commands), len(steps)))
	}
	for i, cmd := range commands {
		commands[i] = strings.TrimSpace(cmd)
		if commands[i] == "" {
			return nil, errors.New(errors.CodeParseFailure, fmt.Sprintf("step %d translated to an empty command", i+1))
		}
	}
	return commands, nil
}

func (g *Gateway) chat(ctx context.Context, systemPrompt, userText string) (*ChatResponse, error) {
	req := ChatRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Messages: []Message{
			systemMessage(systemPrompt),
			userMessage(userText),
		},
	}
	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeModelUnavailable, "model call failed", err)
	}
	return resp, nil
}
