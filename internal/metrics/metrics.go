// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the event distribution core:
// - Subscriber registry population
// - Event publish and fan-out behavior
// - Per-transport frame traffic
// - API endpoint latency and throughput
// - Directory circuit breaker health

var (
	// Registry Metrics
	SubscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_subscribers_connected",
			Help: "Current number of live event subscribers across all transports",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_users_online",
			Help: "Current number of distinct users with at least one live connection",
		},
	)

	// Event Distribution Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_events_published_total",
			Help: "Total number of events accepted for distribution",
		},
		[]string{"kind", "scope"}, // scope: "channel", "direct", "user", "broadcast"
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_events_delivered_total",
			Help: "Total number of per-subscriber event deliveries",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_events_dropped_total",
			Help: "Total number of per-subscriber deliveries abandoned",
		},
		[]string{"reason"}, // "slow_consumer", "resolve_failed", "encode_failed"
	)

	FanoutSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftline_fanout_size",
			Help:    "Number of subscribers resolved per event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"scope"},
	)

	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftline_fanout_duration_seconds",
			Help:    "Time to resolve and enqueue one event to all subscribers",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Transport Metrics
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_frames_sent_total",
			Help: "Total number of frames written to clients",
		},
		[]string{"transport"}, // "websocket", "sse"
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_frames_received_total",
			Help: "Total number of frames read from clients",
		},
		[]string{"transport"},
	)

	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_transport_errors_total",
			Help: "Total number of transport read/write errors",
		},
		[]string{"transport", "error_type"}, // "read", "write", "upgrade", "malformed"
	)

	// Domain Activity Metrics
	ReactionToggles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_reaction_toggles_total",
			Help: "Total number of reaction toggle requests processed",
		},
	)

	TypingNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_typing_notices_total",
			Help: "Total number of typing notices received",
		},
		[]string{"result"}, // "published", "throttled"
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_presence_transitions_total",
			Help: "Total number of presence status transitions published",
		},
		[]string{"status"}, // "online", "busy", "offline"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftline_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Reaction Store Metrics
	ReactionStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_reaction_store_operations_total",
			Help: "Total number of reaction store operations",
		},
		[]string{"operation", "result"}, // operation: "toggle", "snapshot"; result: "ok", "error"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "driftline_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordPublish records an event accepted for distribution.
func RecordPublish(kind, scope string) {
	EventsPublished.WithLabelValues(kind, scope).Inc()
}

// RecordFanout records the outcome of one event's fan-out.
func RecordFanout(scope string, resolved, delivered, dropped int, duration time.Duration) {
	FanoutSize.WithLabelValues(scope).Observe(float64(resolved))
	FanoutDuration.Observe(duration.Seconds())
	EventsDelivered.Add(float64(delivered))
	if dropped > 0 {
		EventsDropped.WithLabelValues("slow_consumer").Add(float64(dropped))
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordReactionStoreOp records a reaction store operation outcome.
func RecordReactionStoreOp(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ReactionStoreOps.WithLabelValues(operation, result).Inc()
}
