package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// LocalProvider talks to the role-specific generation servers:
// POST {endpoint}/chat {messages, max_tokens, temperature, adapter} → {content}.
type LocalProvider struct {
	resolver *Resolver
	client   *http.Client
}

// NewLocal creates a LocalProvider. A zero timeout leaves request
// lifetime to the caller's context.
func NewLocal(resolver *Resolver, timeout time.Duration) *LocalProvider {
	return &LocalProvider{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
	}
}

type localRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Adapter     string    `json:"adapter,omitempty"`
}

type localResponse struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Chat sends the request to the endpoint resolved for req.Purpose.
func (p *LocalProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	body, err := json.Marshal(localRequest{
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Adapter:     req.Adapter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	endpoint := p.resolver.Endpoint(req.Purpose)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(errors.CodeContextLost, "generation call canceled", ctx.Err())
		}
		return nil, errors.New(errors.CodeLLMError, "generation call failed", err).
			WithContext("endpoint", endpoint).
			WithContext("purpose", string(req.Purpose)).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to read generation response", err).WithRecoverable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw).
			WithContext("endpoint", endpoint).
			WithContext("purpose", string(req.Purpose))
	}

	var decoded localResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode generation response", err).
			WithContext("endpoint", endpoint)
	}

	out := &ChatResponse{Content: strings.TrimSpace(decoded.Content), Raw: raw}
	if decoded.Usage != nil {
		out.Usage = *decoded.Usage
	}
	return out, nil
}

func statusError(status int, body []byte) *errors.Error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return errors.New(errors.CodeLLMError, fmt.Sprintf("generation service returned status %d", status), fmt.Errorf("%s", snippet)).
		WithRecoverable(status >= 500 || status == http.StatusTooManyRequests)
}
