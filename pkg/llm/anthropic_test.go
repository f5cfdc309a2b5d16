package llm

import "testing"

func TestNewAnthropicDefaults(t *testing.T) {
	p := NewAnthropic()
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", p.model)
	}
	if p.maxTokens != 8192 {
		t.Errorf("maxTokens = %d", p.maxTokens)
	}
}

func TestNewAnthropicCombinesClientOptions(t *testing.T) {
	p := NewAnthropic(
		WithAnthropicModel("claude-haiku-4"),
		WithAnthropicBaseURL("http://localhost:8080"),
		WithAnthropicAPIKey("test-key"),
	)
	if p.model != "claude-haiku-4" {
		t.Errorf("model = %q, want claude-haiku-4", p.model)
	}
	// Base URL and API key must both survive into the one built client.
	if got := len(p.client.Options); got != 2 {
		t.Errorf("client built with %d request options, want 2", got)
	}
}
