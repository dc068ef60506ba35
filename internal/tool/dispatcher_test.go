package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

func echoTool(name Name, fn func(ctx context.Context, args Args) (string, error)) Tool {
	return NewFunc(name, "test tool", stringParams("q"), fn)
}

func newTestDispatcher(t *testing.T, timeout time.Duration, tools ...Tool) *Dispatcher {
	t.Helper()
	reg, err := NewRegistry(tools...)
	require.NoError(t, err)
	return NewDispatcher(reg, timeout, nil)
}

func TestInvokeSuccess(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Second, echoTool(WebSearch, func(_ context.Context, args Args) (string, error) {
		q, err := args.String("q")
		return "found " + q, err
	}))

	res, err := d.Invoke(context.Background(), domain.ToolCall{ID: "call-1", Name: "web_search", Arguments: `{"q":"nil map"}`})
	require.NoError(t, err)
	assert.Equal(t, "found nil map", res.Content)
	assert.Equal(t, "call-1", res.CallID)
	assert.NoError(t, res.Err)
}

func TestInvokeTruncatesLongResults(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxResultChars+300)
	d := newTestDispatcher(t, 0, echoTool(ExecCodex, func(context.Context, Args) (string, error) {
		return long, nil
	}))

	res, err := d.Invoke(context.Background(), domain.ToolCall{Name: "exec_codex"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.Content, TruncationMarker))

	prefix := strings.TrimSuffix(res.Content, TruncationMarker)
	assert.Equal(t, MaxResultChars, utf8.RuneCountInString(prefix))
	assert.Equal(t, string([]rune(long)[:MaxResultChars]), prefix)
}

func TestInvokeExactLimitIsNotTruncated(t *testing.T) {
	t.Parallel()

	exact := strings.Repeat("x", MaxResultChars)
	d := newTestDispatcher(t, 0, echoTool(ExecCodex, func(context.Context, Args) (string, error) {
		return exact, nil
	}))

	res, err := d.Invoke(context.Background(), domain.ToolCall{Name: "exec_codex"})
	require.NoError(t, err)
	assert.Equal(t, exact, res.Content)
}

func TestInvokeUnknownTool(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 0)
	res, err := d.Invoke(context.Background(), domain.ToolCall{ID: "c", Name: "rm_rf"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrUnknownTool)
	assert.Equal(t, `error: unknown tool "rm_rf"`, res.Content)
}

func TestInvokeConvertsErrorsAndPanics(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 0,
		echoTool(FetchJira, func(context.Context, Args) (string, error) {
			return "", errors.New("jira returned 404")
		}),
		echoTool(PullRepo, func(context.Context, Args) (string, error) {
			panic("boom")
		}),
	)

	res, err := d.Invoke(context.Background(), domain.ToolCall{Name: "fetch_jira"})
	require.NoError(t, err)
	assert.Equal(t, "error: jira returned 404", res.Content)

	res, err = d.Invoke(context.Background(), domain.ToolCall{Name: "pull_repo"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Content, "error: tool pull_repo panicked"))
}

func TestInvokeEmptyResult(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 0, echoTool(QueryRAG, func(context.Context, Args) (string, error) {
		return "", nil
	}))

	res, err := d.Invoke(context.Background(), domain.ToolCall{Name: "query_jira_rag"})
	require.NoError(t, err)
	assert.Equal(t, NoResult, res.Content)
}

func TestInvokeMalformedArguments(t *testing.T) {
	t.Parallel()

	var seen Args
	d := newTestDispatcher(t, 0, echoTool(WebSearch, func(_ context.Context, args Args) (string, error) {
		seen = args
		return "ok", nil
	}))

	_, err := d.Invoke(context.Background(), domain.ToolCall{Name: "web_search", Arguments: `{"q": "unterminated`})
	require.NoError(t, err)
	assert.Equal(t, Args{RawArgKey: `{"q": "unterminated`}, seen)
}

func TestInvokeTimeout(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 20*time.Millisecond, echoTool(ExecCodex, func(ctx context.Context, _ Args) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	res, err := d.Invoke(context.Background(), domain.ToolCall{Name: "exec_codex"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "timed out")
}

func TestInvokeParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := newTestDispatcher(t, time.Minute, echoTool(ExecCodex, func(ctx context.Context, _ Args) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}))

	_, err := d.Invoke(ctx, domain.ToolCall{Name: "exec_codex"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Args{}, ParseArgs(""))
	assert.Equal(t, Args{}, ParseArgs("null"))
	assert.Equal(t, Args{"jiraNo": "AI-5"}, ParseArgs(`{"jiraNo":"AI-5"}`))
	assert.Equal(t, Args{RawArgKey: "[1,2]"}, ParseArgs("[1,2]"))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"Model requested tool calls: tool: fetch_jira, args: \n {\n    \"jiraNo\": \"AI-5\"\n}",
		Preview("fetch_jira", Args{"jiraNo": "AI-5"}))
	assert.Equal(t,
		"Model requested tool calls: tool: exec_codex, prompt: \n fix <nil> deref",
		Preview("exec_codex", Args{"prompt": "fix <nil> deref"}))
	assert.Equal(t, "\n\n Tool fetch_jira, result:\n body", ResultText("fetch_jira", "body"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Args) (string, error) { return "", nil }
	_, err := NewRegistry(echoTool(WebSearch, noop), echoTool(WebSearch, noop))
	assert.Error(t, err)
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Args) (string, error) { return "", nil }
	reg, err := NewRegistry(echoTool(WebSearch, noop), echoTool(ExecCodex, noop), echoTool(FetchJira, noop))
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "exec_codex", defs[0].Name)
	assert.Equal(t, "fetch_jira", defs[1].Name)
	assert.Equal(t, "web_search", defs[2].Name)
}

func TestNameStep(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.StepIntake, FetchJira.Step())
	assert.Equal(t, domain.StepRetrieval, QueryRAG.Step())
	assert.Equal(t, domain.StepKind(""), Name("nope").Step())
}
