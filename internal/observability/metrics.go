package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus instrumentation for the orchestration engine:
// provider request performance, tool execution outcomes, memory/session
// lifecycle, and the Re-Act loop's own bookkeeping (rounds exhausted,
// structured-output corrections).
type Metrics struct {
	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls by outcome.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model.
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks the size of the message list sent to the
	// provider, in tokens.
	// Labels: provider, model.
	ContextWindowUsed *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (memory|provider|agent), error_kind.
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions currently resident in the LRU
	// cache.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds, from Create to
	// Delete.
	SessionDuration prometheus.Histogram

	// ToolRoundsExhausted counts Re-Act loops that exited because
	// max_tool_rounds was reached rather than a tool-call-free turn.
	ToolRoundsExhausted prometheus.Counter

	// StructuredCorrectionAttempts counts ask<T> self-correction attempts by
	// outcome.
	// Labels: status (recovered|exhausted).
	StructuredCorrectionAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers the orchestrator's Prometheus metrics. A
// nil registerer uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_llm_request_duration_seconds",
				Help:    "Duration of provider chat/stream calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_cost_usd_total",
				Help: "Estimated provider cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_context_window_tokens",
				Help:    "Tokens sent to the provider per request",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_sessions",
				Help: "Current number of sessions resident in the LRU cache",
			},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_session_duration_seconds",
				Help:    "Duration of sessions in seconds, from creation to deletion",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		ToolRoundsExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tool_rounds_exhausted_total",
				Help: "Number of Re-Act loops that exited after exhausting max_tool_rounds",
			},
		),

		StructuredCorrectionAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_structured_correction_attempts_total",
				Help: "ask<T> self-correction attempts by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records metrics for a provider request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
		m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated provider API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session
// duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordToolRoundsExhausted records a Re-Act loop exiting via the
// max_tool_rounds bound.
func (m *Metrics) RecordToolRoundsExhausted() {
	m.ToolRoundsExhausted.Inc()
}

// RecordStructuredCorrection records one ask<T> self-correction attempt.
func (m *Metrics) RecordStructuredCorrection(recovered bool) {
	status := "exhausted"
	if recovered {
		status = "recovered"
	}
	m.StructuredCorrectionAttempts.WithLabelValues(status).Inc()
}
