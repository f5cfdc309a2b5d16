package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// ScriptedProvider returns canned responses in order and records the
// requests it saw. It fails once the script is exhausted.
type ScriptedProvider struct {
	Responses []string

	mu       sync.Mutex
	next     int
	Requests []ChatRequest
}

func (s *ScriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if s.next >= len(s.Responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", s.next)
	}
	content := s.Responses[s.next]
	s.next++
	return &ChatResponse{Content: content}, nil
}

// Calls returns how many requests the provider has served.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
