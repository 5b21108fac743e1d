package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowback_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowback_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// BatchRows counts batch rows by outcome: accepted, rejected.
	BatchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowback_batch_rows_total",
			Help: "Batch rows processed, by outcome",
		},
		[]string{"outcome"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowback_batch_duration_seconds",
			Help:    "Time to process one batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	StatusActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowback_status_actions_total",
			Help: "Ledger entries written by the status engine",
		},
		[]string{"action", "source"},
	)

	// Notifications counts SMS dispatch attempts: accepted, rejected, failed, timeout.
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowback_notifications_total",
			Help: "SMS dispatch attempts, by status",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Repeat calls are no-ops.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCount, RequestDuration, BatchRows, BatchDuration, StatusActions, Notifications)
	})
}
