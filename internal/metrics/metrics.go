package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mmkit"

var (
	// EventsTotal counts lifecycle events by type and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events handled, by event type and outcome",
		},
		[]string{"event", "outcome"},
	)

	// KitRequestsTotal counts outbound Kit API calls by operation and result code.
	KitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kit_requests_total",
			Help:      "Kit API requests, by operation and result code",
		},
		[]string{"operation", "code"},
	)

	// KitRequestDuration observes outbound Kit API latency.
	KitRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kit_request_duration_seconds",
			Help:      "Kit API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// TokenRefreshesTotal counts OAuth refresh attempts.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kit_token_refreshes_total",
			Help:      "OAuth token refresh attempts, by result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts inbound HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes inbound HTTP latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPResponseSize observes inbound HTTP response body sizes.
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Inbound HTTP response body size",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "route"},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
