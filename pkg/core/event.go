package core

import (
	"context"
	"time"
)

// EventType identifies a progress event of an ask request.
type EventType string

const (
	EventStart    EventType = "start"
	EventDraft    EventType = "draft"
	EventMetrics  EventType = "metrics"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry of the start / draft / metrics / complete progression.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// StartData is the payload of EventStart.
type StartData struct {
	TS        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
}

// DraftData is the payload of EventDraft.
type DraftData struct {
	Role     Role   `json:"role"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Degraded bool   `json:"degraded,omitempty"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventSink receives progress events. Implementations must not block for
// long: the scheduler calls Emit between role executions.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventSink discards every event.
type NoopEventSink struct{}

// Emit implements EventSink.
func (NoopEventSink) Emit(_ context.Context, _ Event) {}

// NewStartEvent stamps a start event with the current time in milliseconds.
func NewStartEvent(requestID string) Event {
	return Event{Type: EventStart, Data: StartData{TS: time.Now().UnixMilli(), RequestID: requestID}}
}

// NewDraftEvent builds the event emitted when a draft is accepted.
func NewDraftEvent(d Draft) Event {
	return Event{Type: EventDraft, Data: DraftData{Role: d.Role, Title: d.Title, Text: d.Content, Degraded: d.Degraded}}
}
