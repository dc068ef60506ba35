package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-5",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "fetch_jira", "arguments": "{\"jiraNo\":\"AI-5\"}"}
      }]
    }
  }]
}`

func newTestModel(url string, retries uint64) *OpenAI {
	return NewOpenAI(Options{
		APIKey:          "test-key",
		BaseURL:         url + "/",
		Model:           "gpt-5",
		Temperature:     0.4,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil)
}

func TestCompleteParsesToolCalls(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolCallCompletion))
	}))
	defer srv.Close()

	m := newTestModel(srv.URL, 0)
	reply, err := m.Complete(context.Background(), Request{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "fix AI-5"},
		},
		Tools: []domain.ToolDefinition{{
			Name:        "fetch_jira",
			Description: "fetch",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.True(t, reply.HasToolCalls())
	assert.Equal(t, domain.ToolCall{ID: "call_1", Name: "fetch_jira", Arguments: `{"jiraNo":"AI-5"}`}, reply.ToolCalls[0])

	assert.Equal(t, "gpt-5", body["model"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolCallCompletion))
	}))
	defer srv.Close()

	reply, err := newTestModel(srv.URL, 2).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestModel(srv.URL, 3).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBuildMessagesKeepsToolOrder(t *testing.T) {
	t.Parallel()

	msgs := buildMessages([]domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "fix AI-5"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "fetch_jira"}}},
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: "issue body"},
		{Role: domain.RoleAssistant, Content: `{"step":"Summary"}`},
	})

	require.Len(t, msgs, 5)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "fetch_jira", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
	assert.False(t, msgs[2].OfAssistant.Content.OfString.Valid())
}

func TestBuildMessagesKeepsContentAlongsideToolCalls(t *testing.T) {
	t.Parallel()

	msgs := buildMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "fix AI-5"},
		{
			Role:      domain.RoleAssistant,
			Content:   "Fetching the issue first.",
			ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "fetch_jira", Arguments: `{"jiraNo":"AI-5"}`}},
		},
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: "issue body"},
	})

	require.Len(t, msgs, 3)
	assistant := msgs[1].OfAssistant
	require.NotNil(t, assistant)
	assert.Equal(t, "Fetching the issue first.", assistant.Content.OfString.Value)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, `{"jiraNo":"AI-5"}`, assistant.ToolCalls[0].Function.Arguments)

	raw, err := json.Marshal(msgs[1])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":"Fetching the issue first."`)
}
