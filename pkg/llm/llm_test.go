package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	eerrors "github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/resilience"
)

func TestResolver(t *testing.T) {
	r := NewResolver("http://gen:8008/", map[string]string{
		"Macro":  "http://eco:8001/",
		"editor": " ",
	})
	if got := r.Endpoint(PurposeMacro); got != "http://eco:8001" {
		t.Errorf("unexpected macro endpoint %q", got)
	}
	if got := r.Endpoint(PurposeEditor); got != "http://gen:8008" {
		t.Errorf("blank override should fall back, got %q", got)
	}
	if got := r.Endpoints(); len(got) != 2 {
		t.Errorf("expected 2 distinct endpoints, got %v", got)
	}
}

func TestLocalProviderChat(t *testing.T) {
	var got localRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"content":"  거시 해석입니다.  ","usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	p := NewLocal(NewResolver("http://unused", map[string]string{"firm": srv.URL}), time.Second)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Purpose:     PurposeFirm,
		Messages:    []Message{System("persona"), User("질문")},
		MaxTokens:   450,
		Temperature: 0.3,
		Adapter:     "firm-lora",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "거시 해석입니다." {
		t.Errorf("expected trimmed content, got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 42 || len(resp.Raw) == 0 {
		t.Errorf("expected usage and raw payload, got %+v", resp)
	}
	if got.MaxTokens != 450 || got.Temperature != 0.3 || got.Adapter != "firm-lora" || len(got.Messages) != 2 {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestLocalProviderStatusErrors(t *testing.T) {
	status := int32(http.StatusBadGateway)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	p := NewLocal(NewResolver(srv.URL, nil), time.Second)
	_, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro})
	typed := eerrors.As(err)
	if typed == nil || typed.Code != eerrors.CodeLLMError || !typed.Recoverable {
		t.Fatalf("expected recoverable LLM error, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status in error, got %v", err)
	}

	atomic.StoreInt32(&status, http.StatusBadRequest)
	_, err = p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro})
	if eerrors.As(err).Recoverable {
		t.Errorf("expected 4xx to be non-recoverable")
	}
}

func TestLocalProviderCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := NewLocal(NewResolver(srv.URL, nil), 0)
	_, err := p.Chat(ctx, ChatRequest{Purpose: PurposeEditor})
	if eerrors.CodeOf(err) != eerrors.CodeContextLost {
		t.Fatalf("expected context lost, got %v", err)
	}
}

func TestOllamaProviderChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true,"eval_count":3,"prompt_eval_count":7}`))
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "base-model", time.Second).WithAdapterModel("eco-lora", "eco-model")
	resp, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro, Adapter: "eco-lora", MaxTokens: 60, Temperature: 0.6})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" || resp.Usage.TotalTokens != 10 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.Model != "eco-model" || got.Stream {
		t.Errorf("unexpected ollama request %+v", got)
	}
	if got.Options["num_predict"] != float64(60) || got.Options["temperature"] != 0.6 {
		t.Errorf("unexpected options %v", got.Options)
	}

	if _, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeEditor}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got.Model != "base-model" {
		t.Errorf("expected default model, got %s", got.Model)
	}
}

func TestBreakerProviderIsolatesEndpoints(t *testing.T) {
	mock := &MockProvider{ChatFunc: func(_ context.Context, req ChatRequest) (*ChatResponse, error) {
		if req.Purpose == PurposeMacro {
			return nil, errors.New("eco server down")
		}
		return &ChatResponse{Content: "fine"}, nil
	}}
	resolver := NewResolver("http://gen", map[string]string{"macro": "http://eco"})
	var lastState resilience.CircuitBreakerState
	p := NewBreakerProvider(mock, func(purpose Purpose) string { return resolver.Endpoint(purpose) },
		resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}).
		OnStateChange(func(_ string, s resilience.CircuitBreakerState) { lastState = s })

	for i := 0; i < 2; i++ {
		_, _ = p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro})
	}
	if lastState != resilience.StateOpen {
		t.Fatalf("expected open breaker after failures, got %s", lastState)
	}
	_, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro})
	if eerrors.CodeOf(err) != eerrors.CodeCircuitOpen {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if len(mock.RequestsFor(PurposeMacro)) != 2 {
		t.Errorf("open breaker must not reach the provider")
	}
	if _, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeFirm}); err != nil {
		t.Fatalf("other endpoints must stay available: %v", err)
	}
	if states := p.States(); states["http://eco"] != resilience.StateOpen || states["http://gen"] != resilience.StateClosed {
		t.Errorf("unexpected states %v", states)
	}
}

func TestScriptedMockProviderPerPurpose(t *testing.T) {
	s := NewScriptedMockProvider("default-1").
		Script(PurposeEditor, ScriptedReply{Err: errors.New("editor down")})

	if _, err := s.Chat(context.Background(), ChatRequest{Purpose: PurposeEditor}); err == nil {
		t.Fatalf("expected scripted error")
	}
	resp, err := s.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro})
	if err != nil || resp.Content != "default-1" {
		t.Fatalf("expected default reply, got %v %v", resp, err)
	}
	if _, err := s.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro}); err == nil {
		t.Fatalf("expected exhausted script error")
	}
	if len(s.CallsFor(PurposeEditor)) != 1 || s.CallCount != 3 {
		t.Errorf("unexpected call accounting")
	}
}

func TestProbe(t *testing.T) {
	mock := &MockProvider{Response: "OK"}
	if err := Probe(context.Background(), mock); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if reqs := mock.RequestsFor(PurposeHealth); len(reqs) != 1 {
		t.Fatalf("expected one health request, got %d", len(reqs))
	}
}

func TestMeteredProviderAccumulatesPerRequest(t *testing.T) {
	p := NewMeteredProvider(&MockProvider{Response: "ok"})
	ctx, meter := WithUsageMeter(context.Background())
	for range 3 {
		if _, err := p.Chat(ctx, ChatRequest{Purpose: PurposeMacro}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	if _, err := p.Chat(context.Background(), ChatRequest{Purpose: PurposeMacro}); err != nil {
		t.Fatalf("Chat without meter: %v", err)
	}
	usage, calls := meter.Snapshot()
	if calls != 3 || usage.TotalTokens != 60 {
		t.Fatalf("expected 3 calls and 60 tokens, got %d and %d", calls, usage.TotalTokens)
	}
}
