// Package metrics holds the gateway's Prometheus collectors. Collectors are
// package-level and registered via promauto; callers record directly at the
// point where the measured event happens.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgw"

var (
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completions",
			Name:      "total",
			Help:      "Completion requests by serving provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: success, upstream_failure, budget_blocked, not_configured
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completions",
			Name:      "latency_seconds",
			Help:      "Backend completion latency by serving provider",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completions",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and kind",
		},
		[]string{"provider", "kind"}, // kind: prompt, completion
	)

	SpendUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "spend_usd_total",
			Help:      "Accumulated completion cost in USD by provider",
		},
		[]string{"provider"},
	)

	BudgetBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "blocked_total",
			Help:      "Requests blocked by a spend limit, by provider and period",
		},
		[]string{"provider", "period"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "fallbacks_total",
			Help:      "Fallback hops taken, by primary and fallback provider",
		},
		[]string{"from", "to"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry attempts beyond the first, by provider",
		},
		[]string{"provider"},
	)

	// ProviderHealth encodes the tracker state: 0 healthy, 1 degraded, 2 error.
	ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "provider_state",
			Help:      "Provider health state (0 healthy, 1 degraded, 2 error)",
		},
		[]string{"provider"},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Background health probes, by provider and result",
		},
		[]string{"provider", "result"}, // result: success, failure
	)

	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Alerts persisted after dedup, by trigger",
		},
		[]string{"trigger"},
	)
)
