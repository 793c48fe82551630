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

// OllamaProvider implements Provider against a single Ollama server.
// Adapters map to model names: a request whose adapter is listed in
// adapterModels runs on that model instead of the default.
type OllamaProvider struct {
	baseURL       string
	model         string
	adapterModels map[string]string
	client        *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL, model string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:       strings.TrimRight(baseURL, "/"),
		model:         model,
		adapterModels: map[string]string{},
		client:        &http.Client{Timeout: timeout},
	}
}

// WithAdapterModel routes requests carrying adapter to model.
func (p *OllamaProvider) WithAdapterModel(adapter, model string) *OllamaProvider {
	p.adapterModels[adapter] = model
	return p
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
}

// Chat sends a non-streaming chat request to /api/chat.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if m, ok := p.adapterModels[req.Adapter]; ok && model == "" {
		model = m
	}
	if model == "" {
		model = p.model
	}
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(ollamaRequest{Model: model, Messages: req.Messages, Options: options})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(errors.CodeContextLost, "ollama call canceled", ctx.Err())
		}
		return nil, errors.New(errors.CodeLLMError, "ollama api call failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to read ollama response", err).WithRecoverable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw).WithContext("model", model)
	}

	var oResp ollamaResponse
	if err := json.Unmarshal(raw, &oResp); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode ollama response", err)
	}

	return &ChatResponse{
		Content: strings.TrimSpace(oResp.Message.Content),
		Usage: Usage{
			PromptTokens:     oResp.PromptEvalCount,
			CompletionTokens: oResp.EvalCount,
			TotalTokens:      oResp.PromptEvalCount + oResp.EvalCount,
		},
		Raw: raw,
	}, nil
}
