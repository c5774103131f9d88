package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_intents_processed_total",
		Help: "The total number of processed intents",
	}, []string{"kind", "path", "status"})

	IntentProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stablezap_intent_processing_seconds",
		Help:    "Time taken to process intents",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // Start at 0.5s with 10 buckets doubling in size
	}, []string{"kind"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stablezap_gas_used",
		Help:    "Gas used by executed intents",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10), // Start at 21000 with 10 buckets doubling in size
	}, []string{"kind", "path"})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stablezap_gas_price_gwei",
		Help: "Gas price used by the last standard transaction in gwei",
	})

	ExecutionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_errors_total",
		Help: "Total number of errors by type",
	}, []string{"kind", "error_type"})

	Fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_fallbacks_total",
		Help: "Number of gasless attempts that fell back to the standard path",
	}, []string{"kind", "reason"})

	PaymasterRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stablezap_paymaster_rejections_total",
		Help: "Number of user operations refused by the paymaster",
	})

	QuoteRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_quote_rejections_total",
		Help: "Number of aggregator quotes rejected before execution",
	}, []string{"reason"})

	QuoteRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stablezap_quote_rate_limited_total",
		Help: "Number of quote requests refused by the local rate limiter",
	})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stablezap_pending_intents",
		Help: "The number of pending intents waiting for a deposit",
	})

	PendingResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_pending_resolutions_total",
		Help: "Outcomes of deposit events matched against pending intents",
	}, []string{"result"})

	ApprovalsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablezap_approvals_total",
		Help: "Token approvals issued before protocol interactions",
	}, []string{"protocol", "path"})
)
