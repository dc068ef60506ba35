// Package llm defines the completion collaborator used by the agent loop.
package llm

import (
	"context"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// Request is one completion call: the full transcript plus the tool catalog.
type Request struct {
	Messages []domain.Message
	Tools    []domain.ToolDefinition
}

// Reply is the model's answer. ToolCalls take precedence over Content.
type Reply struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// HasToolCalls reports whether the model asked for tools.
func (r Reply) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Completer produces the next model reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (Reply, error)

// Complete calls f(ctx, req).
func (f CompleterFunc) Complete(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}
