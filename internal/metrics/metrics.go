// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomadeum_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nomadeum_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// Provider metrics
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomadeum_provider_calls_total",
			Help: "Total calls to the remote chat backend",
		},
		[]string{"provider", "outcome"}, // outcome: "ok" or "error"
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nomadeum_provider_latency_seconds",
			Help:    "Remote chat backend latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 90},
		},
		[]string{"provider"},
	)

	// Business metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomadeum_turns_total",
			Help: "Total chat turns by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomadeum_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nomadeum_active_streams",
			Help: "Open WebSocket chat streams",
		},
	)

	ConversationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nomadeum_conversations_expired_total",
			Help: "Conversations removed by the TTL worker",
		},
	)
)
