package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modelAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gent",
			Name:      "model_attempts_total",
			Help:      "Model generation attempts by model and outcome (ok, quota, timeout, error, skipped).",
		},
		[]string{"model", "outcome"},
	)

	credentialSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gent",
			Name:      "credential_switches_total",
			Help:      "Times every model was exhausted and the alternate API key was switched in.",
		},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gent",
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	orchestrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gent",
			Name:      "orchestration_duration_seconds",
			Help:      "Wall time of one orchestration run.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)
