// Package tool holds the typed capability registry and the dispatcher that
// runs model-requested tool calls.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// Name identifies a capability offered to the model.
type Name string

const (
	FetchJira Name = "fetch_jira"
	PullRepo  Name = "pull_repo"
	ExecCodex Name = "exec_codex"
	WebSearch Name = "web_search"
	QueryRAG  Name = "query_jira_rag"
)

var toolSteps = map[Name]domain.StepKind{
	FetchJira: domain.StepIntake,
	PullRepo:  domain.StepRepoPull,
	ExecCodex: domain.StepRemediation,
	WebSearch: domain.StepWebSearch,
	QueryRAG:  domain.StepRetrieval,
}

// Step returns the agent step a tool call represents, or "" when unknown.
func (n Name) Step() domain.StepKind {
	return toolSteps[n]
}

// ErrMissingArgument is returned when a required argument is absent.
var ErrMissingArgument = errors.New("missing argument")

// Args is the decoded argument map of a tool call.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", key, v)
	}
	return s, nil
}

// Tool is a single capability.
type Tool interface {
	Name() Name
	Definition() domain.ToolDefinition
	Call(ctx context.Context, args Args) (string, error)
}

// Func is a Tool backed by a function.
type Func struct {
	def domain.ToolDefinition
	fn  func(ctx context.Context, args Args) (string, error)
}

// NewFunc builds a Tool from a definition and a function.
func NewFunc(name Name, description string, params map[string]any, fn func(ctx context.Context, args Args) (string, error)) *Func {
	return &Func{
		def: domain.ToolDefinition{
			Name:        string(name),
			Description: description,
			Parameters:  params,
		},
		fn: fn,
	}
}

// Name implements Tool.
func (f *Func) Name() Name { return Name(f.def.Name) }

// Definition implements Tool.
func (f *Func) Definition() domain.ToolDefinition { return f.def }

// Call implements Tool.
func (f *Func) Call(ctx context.Context, args Args) (string, error) {
	return f.fn(ctx, args)
}

// Registry maps tool names to implementations. It is populated once at
// startup and only read afterwards.
type Registry struct {
	tools map[Name]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, t := range tools {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q registered twice", name)
	}
	r.tools[name] = t
	return nil
}

// Lookup resolves a tool by the name the model used.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[Name(name)]
	return t, ok
}

// Definitions returns the catalog sent to the model, sorted by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
