// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// IngestRuns counts poll cycles by result (ok, error, skipped).
	IngestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_ingest_runs_total",
			Help: "Mailbox poll cycles by result.",
		},
		[]string{"result"},
	)

	// IngestMessages counts processed messages by outcome.
	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_ingest_messages_total",
			Help: "Mailbox messages by ingestion outcome.",
		},
		[]string{"outcome"},
	)

	IngestRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_ingest_run_duration_seconds",
		Help:    "Duration of mailbox poll cycles.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	InvoicesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_ingest_invoices_created_total",
		Help: "Invoices created from mailbox messages.",
	})
)

var registerOnce sync.Once

// Init registers every collector in the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			IngestRuns, IngestMessages, IngestRunDuration, InvoicesCreated,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records RPS, latency and in-flight requests. The route template
// is used as path label to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpInFlight.Dec()
	}
}
