package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsClassified tracks classified provider failures
	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_errors_classified_total",
			Help: "Total number of classified provider errors",
		},
		[]string{"provider", "operation", "error_type"},
	)

	// RefreshAttempts tracks token refresh invocations by outcome
	RefreshAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_token_refresh_total",
			Help: "Total number of token refresh invocations",
		},
		[]string{"provider", "outcome"},
	)

	// RateLimitRejections tracks calls refused by the fixed-window limiter
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_rate_limit_rejections_total",
			Help: "Total number of operations rejected by the rate limiter",
		},
		[]string{"provider", "operation"},
	)

	// HealthChecks tracks computed consolidated statuses
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_health_checks_total",
			Help: "Total number of health status computations",
		},
		[]string{"provider", "status"},
	)

	// AlertsDispatched tracks alerts sent to the notification dispatcher
	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_alerts_dispatched_total",
			Help: "Total number of alerts dispatched",
		},
		[]string{"provider", "alert_type"},
	)

	// AlertsSuppressed tracks alerts held back by the suppression window
	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlink_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by throttling",
		},
		[]string{"provider", "alert_type"},
	)

	// ProviderLatency tracks outbound provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudlink_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// BreakerState tracks the circuit breaker state per provider (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudlink_provider_breaker_state",
			Help: "Circuit breaker state per provider",
		},
		[]string{"provider"},
	)
)
