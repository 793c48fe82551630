package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a testing implementation of Provider. Every request is
// recorded.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// RequestsFor returns recorded requests with the given purpose.
func (m *MockProvider) RequestsFor(purpose Purpose) []ChatRequest {
	var out []ChatRequest
	for _, r := range m.Requests() {
		if r.Purpose == purpose {
			out = append(out, r)
		}
	}
	return out
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}
