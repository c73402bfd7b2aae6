// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecuteGoalRequests counts every execute_goal frame received,
	// including ones later rejected by validation or rate limiting.
	ExecuteGoalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_execute_goal_requests_total",
		Help: "Total execute_goal requests received",
	})

	// StepsExecuted counts sub-steps attempted.
	StepsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_steps_executed_total",
		Help: "Total sub-steps executed (attempted)",
	})

	// StepsFailed counts sub-steps whose command exited non-zero.
	StepsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_steps_failed_total",
		Help: "Total sub-steps failed (non-zero exit or executor error)",
	})

	// PlannerLatency observes planner call durations, initial and re-plan.
	PlannerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_planner_seconds",
		Help:    "Planner call latency (seconds)",
		Buckets: []float64{0.2, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// TranslatorLatency observes step-to-command translation durations.
	TranslatorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_executor_seconds",
		Help:    "Executor call latency (seconds)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	})

	// SandboxLatency observes sandboxed command durations.
	SandboxLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_sandbox_seconds",
		Help:    "Sandbox execution latency (seconds)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
	})
)
