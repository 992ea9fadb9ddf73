package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.2, 900, 120)
type Metrics struct {
	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error kind)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LoopIterations observes how many iterations each run used.
	LoopIterations prometheus.Histogram

	// RunCounter counts finished runs.
	// Labels: status (completed|failed|cancelled)
	RunCounter *prometheus.CounterVec

	// Delegations counts peer hand-offs in group conversations.
	Delegations prometheus.Counter

	// ScreenControlActive is the number of runs currently driving the desktop.
	ScreenControlActive prometheus.Gauge
}

// NewMetrics creates the metric set and registers it on reg. A nil reg
// registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		LoopIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_loop_iterations",
			Help:    "Iterations used per execution loop run",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
		}),
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_runs_total",
				Help: "Total number of execution loop runs by terminal status",
			},
			[]string{"status"},
		),
		Delegations: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_delegations_total",
			Help: "Total number of peer delegations in group conversations",
		}),
		ScreenControlActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_screen_control_active",
			Help: "Number of runs currently controlling the screen",
		}),
	}
}

// RecordLLMRequest records a provider call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordRun records a finished execution loop run.
func (m *Metrics) RecordRun(status string, iterations int) {
	if m == nil {
		return
	}
	m.RunCounter.WithLabelValues(status).Inc()
	m.LoopIterations.Observe(float64(iterations))
}

// RecordDelegation counts one peer hand-off.
func (m *Metrics) RecordDelegation() {
	if m == nil {
		return
	}
	m.Delegations.Inc()
}

// SetScreenControlActive publishes the arbiter count.
func (m *Metrics) SetScreenControlActive(n int) {
	if m == nil {
		return
	}
	m.ScreenControlActive.Set(float64(n))
}
