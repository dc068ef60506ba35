package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
}

func TestToolCallCounters(t *testing.T) {
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("fetch_jira", "ok"))
	ToolCall("fetch_jira", "ok", 150*time.Millisecond)
	after := testutil.ToFloat64(toolCallsTotal.WithLabelValues("fetch_jira", "ok"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	Init()
	RunStarted()
	RunFinished("completed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bugfix_runs_total") {
		t.Fatal("expected bugfix_runs_total in output")
	}
}
