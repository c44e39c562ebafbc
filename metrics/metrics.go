// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_core_request_count_total",
			Help: "Total number of turns processed",
		},
		[]string{"backend", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aria_core_request_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
		},
		[]string{"backend"},
	)

	BudgetRefusals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_core_budget_refusals_total",
			Help: "Remote calls refused because they would breach the cost ceiling",
		},
	)

	RemoteSpend = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_core_remote_spend_total",
			Help: "Accumulated remote API spend committed to the ledger",
		},
	)

	ModelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aria_core_model_load_duration_seconds",
			Help:    "Time spent loading a model resource",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind"},
	)

	ModelLoadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_core_model_load_failures_total",
			Help: "Model resource load failures",
		},
		[]string{"kind"},
	)

	ContextFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_core_context_fallbacks_total",
			Help: "Context fetches that fell back to the recent-context cache",
		},
	)

	MemorySearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aria_core_memory_search_duration_seconds",
			Help:    "Semantic memory search duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)
