// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuestionsTotal counts processed questions by plan kind and status.
	QuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsiq",
		Name:      "questions_total",
		Help:      "Questions processed, by plan kind and terminal status.",
	}, []string{"kind", "status"})

	// QuestionDuration observes end-to-end question latency.
	QuestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "opsiq",
		Name:      "question_duration_seconds",
		Help:      "End-to-end question processing latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ToolCallsTotal counts tool executions by tool and error code.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsiq",
		Name:      "tool_calls_total",
		Help:      "Tool executions, by tool name and error code (empty on success).",
	}, []string{"tool", "error_code"})

	// ToolCallDuration observes per-tool latency.
	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opsiq",
		Name:      "tool_call_duration_seconds",
		Help:      "Tool execution latency by tool name.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"tool"})

	// CacheHitsTotal counts result cache hits and misses.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsiq",
		Name:      "cache_events_total",
		Help:      "Result cache events, by outcome (hit or miss).",
	}, []string{"outcome"})

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsiq",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions, by breaker and new state.",
	}, []string{"breaker", "state"})

	// ReplansTotal counts control loop decisions.
	ReplansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsiq",
		Name:      "replans_total",
		Help:      "Replan decisions, by trigger type and whether accepted.",
	}, []string{"trigger", "accepted"})
)

// ObserveQuestion records one processed question.
func ObserveQuestion(kind, status string, elapsed time.Duration) {
	QuestionsTotal.WithLabelValues(kind, status).Inc()
	QuestionDuration.Observe(elapsed.Seconds())
}

// ObserveToolCall records one tool execution.
func ObserveToolCall(tool, errorCode string, elapsed time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, errorCode).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
