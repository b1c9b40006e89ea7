// Package metrics provides Prometheus instrumentation for the Taskvine platform.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskvine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BookingTransitionsTotal counts booking status transitions.
	BookingTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "booking_transitions_total",
			Help:      "Booking state machine transitions by target status and trigger.",
		},
		[]string{"status", "trigger"},
	)

	// EscrowOperationsTotal counts escrow release/refund outcomes.
	EscrowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "escrow_operations_total",
			Help:      "Escrow operations by type (release, refund, partial_refund) and result.",
		},
		[]string{"operation", "result"},
	)

	// WebhookEventsTotal counts inbound provider webhook events.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "webhook_events_total",
			Help:      "Inbound payment provider events by type and result (processed, duplicate, failed, rejected).",
		},
		[]string{"type", "result"},
	)

	// PayoutsTotal counts payout transitions by status.
	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "payouts_total",
			Help:      "Payout records by status transition.",
		},
		[]string{"status"},
	)

	// DisputesTotal counts dispute resolutions by type.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "disputes_total",
			Help:      "Dispute resolutions by resolution type.",
		},
		[]string{"resolution"},
	)

	// ReconcileDivergencesTotal counts provider/local state divergences found.
	ReconcileDivergencesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvine",
			Name:      "reconcile_divergences_total",
			Help:      "Payments whose provider state diverged from the local record.",
		},
	)

	// SweepDuration observes background sweep runtime by sweep name.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskvine",
			Name:      "sweep_duration_seconds",
			Help:      "Background sweep duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BookingTransitionsTotal,
		EscrowOperationsTotal,
		WebhookEventsTotal,
		PayoutsTotal,
		DisputesTotal,
		ReconcileDivergencesTotal,
		SweepDuration,
	)
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// ObserveSweep times a background sweep run.
func ObserveSweep(name string, start time.Time) {
	SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
