package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EstimatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rehab_estimates_total",
			Help: "Total number of rehab estimate requests by outcome",
		},
		[]string{"outcome"},
	)

	EstimateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rehab_estimate_duration_seconds",
			Help:    "Duration of rehab estimate requests in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_tokens_total",
			Help: "Tokens consumed by generative model calls",
		},
		[]string{"model", "direction"},
	)

	ModelCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_cost_usd_total",
			Help: "Estimated generative model spend in US dollars",
		},
		[]string{"model"},
	)

	EstimateCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rehab_estimate_cache_lookups_total",
			Help: "Estimate cache lookups by result",
		},
		[]string{"result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_relayed_total",
			Help: "Notifications relayed to Telegram by priority and outcome",
		},
		[]string{"priority", "outcome"},
	)
)
