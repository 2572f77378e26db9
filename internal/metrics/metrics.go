// Package metrics registers the pipeline's Prometheus collectors. The API
// exposes them on /metrics; the worker on its metrics listener.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_publishes_total",
			Help: "Publish attempts by result (success, not_ready, rejected, timeout, connection_lost)",
		},
		[]string{"result"},
	)

	messagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_messages_processed_total",
			Help: "Consumed messages by processing outcome",
		},
		[]string{"outcome"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metadata_fetch_duration_seconds",
			Help:    "Duration of metadata HTTP fetches in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, endpoint, s).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, s).Observe(duration.Seconds())
}

// RecordPublish records one publish attempt result.
func RecordPublish(result string) {
	publishesTotal.WithLabelValues(result).Inc()
}

// RecordProcessed records one consumed message outcome.
func RecordProcessed(outcome string) {
	messagesProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the duration of one fetch.
func ObserveFetch(d time.Duration) {
	fetchDuration.Observe(d.Seconds())
}
