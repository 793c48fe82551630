package llm

import (
	"context"
	"sync"

	"github.com/jllopis/ecomentor/pkg/resilience"
)

// BreakerProvider wraps a Provider with one circuit breaker per endpoint,
// so a dead role server fails fast without affecting the others.
type BreakerProvider struct {
	next     Provider
	key      func(Purpose) string
	config   resilience.CircuitBreakerConfig
	onChange func(endpoint string, state resilience.CircuitBreakerState)

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewBreakerProvider wraps next. key maps a purpose to the endpoint a
// breaker guards; a nil key uses one breaker for everything.
func NewBreakerProvider(next Provider, key func(Purpose) string, config resilience.CircuitBreakerConfig) *BreakerProvider {
	if key == nil {
		key = func(Purpose) string { return "default" }
	}
	return &BreakerProvider{
		next:     next,
		key:      key,
		config:   config,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// OnStateChange registers a callback invoked after each call with the
// breaker state of the endpoint used.
func (b *BreakerProvider) OnStateChange(fn func(endpoint string, state resilience.CircuitBreakerState)) *BreakerProvider {
	b.onChange = fn
	return b
}

// Chat runs the wrapped provider behind the endpoint's breaker.
func (b *BreakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	endpoint := b.key(req.Purpose)
	cb := b.breaker(endpoint)

	var resp *ChatResponse
	err := cb.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.next.Chat(ctx, req)
		return err
	})
	if b.onChange != nil {
		b.onChange(endpoint, cb.State())
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// States reports the state of every breaker created so far.
func (b *BreakerProvider) States() map[string]resilience.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]resilience.CircuitBreakerState, len(b.breakers))
	for endpoint, cb := range b.breakers {
		out[endpoint] = cb.State()
	}
	return out
}

func (b *BreakerProvider) breaker(endpoint string) *resilience.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[endpoint]
	if !ok {
		cfg := b.config
		cfg.Name = endpoint
		cb = resilience.NewCircuitBreaker(cfg)
		b.breakers[endpoint] = cb
	}
	return cb
}
