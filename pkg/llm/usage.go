package llm

import (
	"context"
	"sync"
)

// UsageMeter accumulates token usage for one request.
type UsageMeter struct {
	mu    sync.Mutex
	usage Usage
	calls int
}

// Add records one response's usage.
func (m *UsageMeter) Add(u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.PromptTokens += u.PromptTokens
	m.usage.CompletionTokens += u.CompletionTokens
	m.usage.TotalTokens += u.TotalTokens
	m.calls++
}

// Snapshot returns the accumulated usage and the number of calls.
func (m *UsageMeter) Snapshot() (Usage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage, m.calls
}

type usageKey struct{}

// WithUsageMeter attaches a fresh meter to ctx.
func WithUsageMeter(ctx context.Context) (context.Context, *UsageMeter) {
	m := &UsageMeter{}
	return context.WithValue(ctx, usageKey{}, m), m
}

// UsageMeterFromContext returns the meter attached to ctx, if any.
func UsageMeterFromContext(ctx context.Context) *UsageMeter {
	m, _ := ctx.Value(usageKey{}).(*UsageMeter)
	return m
}

// MeteredProvider adds the usage of every successful response to the
// meter found in the request context.
type MeteredProvider struct {
	next Provider
}

// NewMeteredProvider wraps next.
func NewMeteredProvider(next Provider) *MeteredProvider {
	return &MeteredProvider{next: next}
}

// Chat implements Provider.
func (p *MeteredProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if m := UsageMeterFromContext(ctx); m != nil {
		m.Add(resp.Usage)
	}
	return resp, nil
}
