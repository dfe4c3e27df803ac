package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Event store metrics
	eventStoreAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_eventstore_appends_total",
			Help: "Total number of event store appends",
		},
		[]string{"backend", "result"},
	)

	eventStoreAppendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_eventstore_append_duration_seconds",
			Help:    "Event store append duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Publisher metrics
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_events_published_total",
			Help: "Total number of published domain events",
		},
		[]string{"type", "result"},
	)

	// Agent metrics
	agentExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Command metrics
	commandRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_command_retries_total",
			Help: "Total number of command retries after a concurrency conflict",
		},
		[]string{"command"},
	)

	// System metrics
	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			eventStoreAppendsTotal,
			eventStoreAppendDuration,
			eventsPublishedTotal,
			agentExecutionDuration,
			commandRetriesTotal,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAppend records an event store append. result is "ok", "conflict" or "error".
func RecordAppend(backend, result string, duration time.Duration) {
	eventStoreAppendsTotal.WithLabelValues(backend, result).Inc()
	eventStoreAppendDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordPublish records a published event.
func RecordPublish(eventType, result string) {
	eventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}

// RecordAgentExecution records agent execution metrics
func RecordAgentExecution(provider string, duration time.Duration) {
	agentExecutionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordCommandRetry counts one retry of a command after a conflict.
func RecordCommandRetry(command string) {
	commandRetriesTotal.WithLabelValues(command).Inc()
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}
