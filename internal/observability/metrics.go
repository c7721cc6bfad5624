package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the daemon's Prometheus counters/gauges. It is a
// diagnostic surface, separate from the HTTP ingress's fixed REST API:
// wiring failures here are not allowed to affect request handling.
type Metrics struct {
	// TurnsTotal counts agentic-loop turns, by outcome (tool_use|end_turn|max_turns).
	TurnsTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool invocations, by tool name and outcome (ok|error).
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures tool execution latency in seconds, by tool name.
	ToolCallDuration *prometheus.HistogramVec

	// CostUSDTotal tracks accumulated spend, by model.
	CostUSDTotal *prometheus.CounterVec

	// QueueDepth tracks the dispatcher's pending work-item count.
	QueueDepth prometheus.Gauge

	// ActiveSessions tracks in-memory session count.
	ActiveSessions prometheus.Gauge

	// DispatchErrorsTotal counts dispatcher-level failures, by stage
	// (resolve_model|loop).
	DispatchErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors against reg (pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer for the process-wide one).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lucyd_agent_turns_total",
			Help: "Agentic loop turns by stop outcome.",
		}, []string{"outcome"}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lucyd_tool_calls_total",
			Help: "Tool invocations by name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lucyd_tool_call_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lucyd_cost_usd_total",
			Help: "Accumulated LLM spend in USD.",
		}, []string{"model"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lucyd_dispatch_queue_depth",
			Help: "Pending items on the dispatch queue.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lucyd_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
		DispatchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lucyd_dispatch_errors_total",
			Help: "Dispatcher failures by stage.",
		}, []string{"stage"}),
	}
}

// Handler returns the Prometheus scrape endpoint handler, meant to be
// served on its own diagnostics listener rather than the chat/notify
// ingress.
func Handler() http.Handler {
	return promhttp.Handler()
}
