// Package metrics exposes Prometheus instrumentation for the daemon's
// own operation, plus a periodic host-resource sampler that feeds
// sampled Metric rows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_reconciliation_duration_seconds",
			Help:    "Time taken for a single reconciliation task in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_reconciliation_cycles_total",
			Help: "Total number of reconciliation tasks completed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TaskQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_task_queue_depth",
			Help: "Number of keys with an in-flight or queued reconciliation task",
		},
	)

	EventSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_event_subscribers_total",
			Help: "Number of active event bus subscribers",
		},
	)

	MetricsSampledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_metrics_sampled_total",
			Help: "Total number of host metric samples inserted",
		},
	)

	MetricsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_metrics_swept_total",
			Help: "Total number of expired Metric rows deleted by the retention sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		APIRequestsTotal,
		APIRequestDuration,
		TaskQueueDepth,
		EventSubscribersTotal,
		MetricsSampledTotal,
		MetricsSweptTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveVec records elapsed time against a labeled histogram.
func (t *Timer) ObserveVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
