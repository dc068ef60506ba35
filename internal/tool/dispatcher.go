package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/metrics"
)

const (
	// MaxResultChars bounds a tool result before it enters the transcript.
	MaxResultChars = 1200
	// TruncationMarker is appended to results cut at MaxResultChars.
	TruncationMarker = "...[truncated]"
	// NoResult replaces empty results.
	NoResult = "No result returned."
	// RawArgKey holds arguments that could not be decoded.
	RawArgKey = "_raw"
)

// ErrUnknownTool is reported when the model asks for an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Result is the outcome of one tool call.
type Result struct {
	CallID   string
	Name     string
	Args     Args
	Content  string
	Err      error
	Duration time.Duration
}

// Dispatcher resolves and executes tool calls.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout disables the per-call bound.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, timeout: timeout, logger: logger}
}

// Definitions returns the tool catalog.
func (d *Dispatcher) Definitions() []domain.ToolDefinition {
	return d.registry.Definitions()
}

// ParseArgs decodes call arguments. Undecodable input is kept under RawArgKey.
func ParseArgs(raw string) Args {
	if strings.TrimSpace(raw) == "" {
		return Args{}
	}
	var args Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Args{RawArgKey: raw}
	}
	if args == nil {
		return Args{}
	}
	return args
}

// Invoke runs a single tool call. Capability failures, unknown tools and
// timeouts are folded into Result.Content; the returned error is non-nil only
// when ctx itself is done.
func (d *Dispatcher) Invoke(ctx context.Context, call domain.ToolCall) (Result, error) {
	res := Result{CallID: call.ID, Name: call.Name, Args: ParseArgs(call.Arguments)}

	t, ok := d.registry.Lookup(call.Name)
	if !ok {
		res.Err = fmt.Errorf("%w %q", ErrUnknownTool, call.Name)
		res.Content = "error: " + res.Err.Error()
		d.logger.Warn("Model requested unknown tool", "tool", call.Name)
		metrics.ToolCall(call.Name, "unknown", 0)
		return res, nil
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := safeCall(callCtx, t, res.Args)
	res.Duration = time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.ToolCall(call.Name, "cancelled", res.Duration)
		return res, ctxErr
	}

	switch {
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("tool %s timed out after %s", call.Name, d.timeout)
		res.Content = "error: " + res.Err.Error()
		metrics.ToolCall(call.Name, "timeout", res.Duration)
	case err != nil:
		res.Err = err
		res.Content = "error: " + err.Error()
		metrics.ToolCall(call.Name, "error", res.Duration)
	default:
		res.Content = out
		if strings.TrimSpace(out) == "" {
			res.Content = NoResult
		}
		metrics.ToolCall(call.Name, "ok", res.Duration)
	}
	res.Content = Truncate(res.Content, MaxResultChars)

	if res.Err != nil {
		d.logger.Warn("Tool call failed", "tool", call.Name, "call_id", call.ID, "error", res.Err, "duration", res.Duration)
	} else {
		d.logger.Info("Tool call completed", "tool", call.Name, "call_id", call.ID, "duration", res.Duration, "chars", utf8.RuneCountInString(out))
	}
	return res, nil
}

func safeCall(ctx context.Context, t Tool, args Args) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Call(ctx, args)
}

// Truncate cuts s to limit runes and appends TruncationMarker when it was longer.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + TruncationMarker
}

// Preview renders the human-readable description of a tool request.
func Preview(name string, args Args) string {
	if Name(name) == ExecCodex {
		prompt, _ := args["prompt"].(string)
		return fmt.Sprintf("Model requested tool calls: tool: %s, prompt: \n %s", name, prompt)
	}
	return fmt.Sprintf("Model requested tool calls: tool: %s, args: \n %s", name, indentJSON(args))
}

// ResultText renders a tool result as streamed to the client.
func ResultText(name, content string) string {
	return fmt.Sprintf("\n\n Tool %s, result:\n %s", name, content)
}

func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
