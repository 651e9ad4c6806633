package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notifications delivered successfully, by channel.",
	}, []string{"channel"})

	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications that exhausted delivery, by channel and failure kind.",
	}, []string{"channel", "kind"})

	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_suppressed_total",
		Help: "Sends suppressed by the preference gate.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_rate_limited_total",
		Help: "Sends rejected by the business-level rate limiter.",
	})

	breakerRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_breaker_rejected_total",
		Help: "Sends rejected by the orchestrator's open circuit breaker.",
	})

	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_delivery_seconds",
		Help:    "Wall-clock latency of the full send pipeline.",
		Buckets: prometheus.DefBuckets,
	})
)
