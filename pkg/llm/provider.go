// Package llm is the client side of the generation service: request and
// response types, the Provider interface and its backends.
package llm

import (
	"context"
	"encoding/json"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Purpose tags a request with the role or engine step it serves. Backends
// use it to resolve the endpoint.
type Purpose string

const (
	PurposeMacro     Purpose = "macro"
	PurposeFirm      Purpose = "firm"
	PurposeHousehold Purpose = "household"
	PurposeEditor    Purpose = "editor"
	PurposeRouter    Purpose = "router"
	PurposeHealth    Purpose = "health"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the generation service.
type ChatRequest struct {
	Purpose     Purpose   `json:"-"`
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Adapter     string    `json:"adapter,omitempty"`
}

// ChatResponse encapsulates the output of the generation service.
type ChatResponse struct {
	Content string          `json:"content"`
	Usage   Usage           `json:"usage"`
	Raw     json.RawMessage `json:"-"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for interacting with generation backends.
type Provider interface {
	// Chat sends a chat request and returns the completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Probe sends a minimal request, as the health route does.
func Probe(ctx context.Context, p Provider) error {
	_, err := p.Chat(ctx, ChatRequest{
		Purpose:     PurposeHealth,
		Messages:    []Message{User("Reply with OK")},
		MaxTokens:   5,
		Temperature: 0,
	})
	return err
}
