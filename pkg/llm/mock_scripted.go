package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedReply is one scripted outcome: content or an error.
type ScriptedReply struct {
	Content string
	Err     error
}

// ScriptedMockProvider returns a pre-defined sequence of replies per
// purpose, falling back to the shared Default script. It is used to
// drive the draft ladder through specific attempt outcomes.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	scripts   map[Purpose][]ScriptedReply
	Default   []ScriptedReply
	CallCount int
	Calls     []ChatRequest
}

// NewScriptedMockProvider creates a provider whose default script returns
// responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{scripts: make(map[Purpose][]ScriptedReply)}
	for _, r := range responses {
		s.Default = append(s.Default, ScriptedReply{Content: r})
	}
	return s
}

// Script appends replies for a purpose.
func (s *ScriptedMockProvider) Script(purpose Purpose, replies ...ScriptedReply) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[purpose] = append(s.scripts[purpose], replies...)
	return s
}

// Chat pops the next scripted reply for the request's purpose.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Calls = append(s.Calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reply ScriptedReply
	switch {
	case len(s.scripts[req.Purpose]) > 0:
		reply = s.scripts[req.Purpose][0]
		s.scripts[req.Purpose] = s.scripts[req.Purpose][1:]
	case len(s.Default) > 0:
		reply = s.Default[0]
		s.Default = s.Default[1:]
	default:
		return nil, errors.New("scripted mock: no more responses available")
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &ChatResponse{
		Content: reply.Content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// CallsFor returns the requests received for purpose.
func (s *ScriptedMockProvider) CallsFor(purpose Purpose) []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChatRequest
	for _, c := range s.Calls {
		if c.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}
