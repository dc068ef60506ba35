// Package metrics exposes Prometheus instrumentation for the agent server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugfix_runs_total",
			Help: "Total number of agent runs by outcome",
		},
		[]string{"outcome"},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bugfix_active_runs",
			Help: "Number of agent runs currently in flight",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bugfix_ws_connections",
			Help: "Number of open agent websocket connections",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugfix_events_total",
			Help: "Total number of events sent to clients",
		},
		[]string{"type"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugfix_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bugfix_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tool"},
	)

	completionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bugfix_completion_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	illegalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugfix_illegal_transitions_total",
			Help: "Declared step transitions that are not in the transition table",
		},
		[]string{"from", "to"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			runsTotal,
			activeRuns,
			wsConnections,
			eventsTotal,
			toolCallsTotal,
			toolCallDuration,
			completionDuration,
			illegalTransitions,
		)
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RunStarted marks a run as in flight.
func RunStarted() {
	activeRuns.Inc()
}

// RunFinished records the outcome of a run.
func RunFinished(outcome string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
}

// ConnectionOpened tracks a new websocket connection.
func ConnectionOpened() { wsConnections.Inc() }

// ConnectionClosed tracks a closed websocket connection.
func ConnectionClosed() { wsConnections.Dec() }

// EventSent counts an outbound event.
func EventSent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// ToolCall records one tool invocation.
func ToolCall(tool, status string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Completion records the latency of a completion call.
func Completion(d time.Duration) {
	completionDuration.Observe(d.Seconds())
}

// IllegalTransition counts a declared step that the transition table does not allow.
func IllegalTransition(from, to string) {
	illegalTransitions.WithLabelValues(from, to).Inc()
}
