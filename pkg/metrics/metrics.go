// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DocsPublishedTotal   prometheus.Counter
	PublishFailuresTotal prometheus.Counter
	DocsSkippedTotal     prometheus.Counter
	DocsConsumedTotal    prometheus.Counter
	DocsAckedTotal       prometheus.Counter
	DocsRequeuedTotal    prometheus.Counter
	PoisonMessagesTotal  prometheus.Counter
	BulkFlushesTotal     *prometheus.CounterVec
	BulkFlushDuration    prometheus.Histogram
	BulkBatchSize        prometheus.Histogram
	WorkerRestartsTotal  *prometheus.CounterVec
	QueueReconnectsTotal prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_published_total",
				Help: "Total documents published to the durable queue.",
			},
		),
		PublishFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "publish_failures_total",
				Help: "Total publish attempts that failed after retries.",
			},
		),
		DocsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_skipped_total",
				Help: "Total documents routed to other sinks and skipped.",
			},
		),
		DocsConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_consumed_total",
				Help: "Total documents pulled from the durable queue.",
			},
		),
		DocsAckedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_acked_total",
				Help: "Total documents acknowledged after successful indexing.",
			},
		),
		DocsRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_requeued_total",
				Help: "Total documents returned to the queue after a failed index attempt.",
			},
		),
		PoisonMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "poison_messages_total",
				Help: "Total undecodable queue payloads acknowledged and dropped.",
			},
		),
		BulkFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulk_flushes_total",
				Help: "Total bulk flush operations by status (ok, partial, error).",
			},
			[]string{"status"},
		),
		BulkFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulk_flush_duration_seconds",
				Help:    "Bulk flush latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		BulkBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulk_batch_size",
				Help:    "Number of documents per flushed batch.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		WorkerRestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_restarts_total",
				Help: "Total flush worker restarts by worker slot.",
			},
			[]string{"worker"},
		),
		QueueReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "queue_reconnects_total",
				Help: "Total broker reconnect cycles across all workers.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocsPublishedTotal,
		m.PublishFailuresTotal,
		m.DocsSkippedTotal,
		m.DocsConsumedTotal,
		m.DocsAckedTotal,
		m.DocsRequeuedTotal,
		m.PoisonMessagesTotal,
		m.BulkFlushesTotal,
		m.BulkFlushDuration,
		m.BulkBatchSize,
		m.WorkerRestartsTotal,
		m.QueueReconnectsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
