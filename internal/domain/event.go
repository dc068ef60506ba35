// Package domain contains the core types shared by the bug-fix agent server.
package domain

import "context"

// EventType identifies an outbound channel event.
type EventType string

const (
	EventStart       EventType = "response-start"
	EventToken       EventType = "response-token"
	EventEnd         EventType = "response-end"
	EventError       EventType = "response-error"
	EventStop        EventType = "response-stop"
	EventCelebration EventType = "response-celebration"
)

// Status is the coarse state reported alongside every event.
type Status string

const (
	StatusThinking    Status = "thinking"
	StatusStreaming   Status = "streaming"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusStopped     Status = "stopped"
	StatusCelebrating Status = "celebrating"
)

// Metadata keys used by outbound events.
const (
	MetaPromptPreview = "promptPreview"
	MetaDetail        = "detail"
	MetaCelebration   = "celebration"
)

// Event is a single message pushed to the client.
type Event struct {
	ConversationID string            `json:"conversationId"`
	ResponseID     string            `json:"responseId"`
	Type           EventType         `json:"type"`
	Status         Status            `json:"status"`
	Token          string            `json:"token,omitempty"`
	Content        string            `json:"content,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether the event closes a turn.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventEnd, EventError, EventStop:
		return true
	default:
		return false
	}
}

// Sink receives events in the order they are produced.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Send calls f(ctx, event).
func (f SinkFunc) Send(ctx context.Context, event Event) error {
	return f(ctx, event)
}
