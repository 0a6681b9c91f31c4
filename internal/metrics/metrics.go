// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package metrics defines the Prometheus collectors of the realtime core.
// Collectors register on the default registry through promauto and are
// exposed on GET /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of in-flight API requests",
		},
	)

	// Webhooks
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plex_webhooks_received_total",
			Help: "Accepted Plex webhooks by event kind",
		},
		[]string{"kind"},
	)

	WebhooksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plex_webhooks_rejected_total",
			Help: "Rejected Plex webhooks by error code",
		},
		[]string{"code"},
	)

	WebhooksDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plex_webhooks_duplicate_total",
			Help: "Webhooks dropped as redeliveries of an already processed event",
		},
	)

	// Sessions and buffer health
	SessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessions_tracked",
			Help: "Live sessions by playback state",
		},
		[]string{"state"},
	)

	SessionsAtRisk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buffer_health_sessions_at_risk",
			Help: "Sessions currently classified risky or critical",
		},
		[]string{"health"},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_state_transitions_total",
			Help: "Session state transitions",
		},
		[]string{"from", "to"},
	)

	SessionsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Sessions removed from the tracker",
		},
		[]string{"reason"},
	)

	BufferHealthUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_health_updates_total",
			Help: "buffer_health_update broadcasts emitted",
		},
	)

	// WebSocket hub
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket subscribers",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Messages queued to subscribers by type",
		},
		[]string{"type"},
	)

	WSDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_disconnects_total",
			Help: "Subscriber disconnects by reason",
		},
		[]string{"reason"},
	)

	// Event store
	EventStoreAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_store_appends_total",
			Help: "EventStore append outcomes",
		},
		[]string{"result"},
	)

	EventStoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "event_store_append_retries_total",
			Help: "Append attempts retried after a transient storage error",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	WALPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wal_pending_entries",
			Help: "WAL entries written but not yet confirmed in DuckDB",
		},
	)

	WALRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wal_recoveries_total",
			Help: "WAL entries replayed by the retry loop",
		},
		[]string{"result"},
	)

	// Plex monitoring
	PlexRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plex_api_requests_total",
			Help: "Requests to the Plex API by result",
		},
		[]string{"endpoint", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	PlexRealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plex_realtime_connected",
			Help: "1 while the Plex notification WebSocket is connected",
		},
	)

	// Event bus
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Messages published to NATS by result",
		},
		[]string{"topic", "result"},
	)
)

// RecordAPIRequest records one finished HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordDBQuery observes a DuckDB query duration.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAppend counts an EventStore append outcome: inserted, duplicate or failed.
func RecordAppend(result string) {
	EventStoreAppends.WithLabelValues(result).Inc()
}

// RecordPublish counts a NATS publish outcome.
func RecordPublish(topic string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	NATSMessagesPublished.WithLabelValues(topic, result).Inc()
}

// RecordPlexRequest counts a Plex API call outcome.
func RecordPlexRequest(endpoint string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	PlexRequests.WithLabelValues(endpoint, result).Inc()
}

// SetAtRisk publishes the current at-risk counts.
func SetAtRisk(critical, risky int) {
	SessionsAtRisk.WithLabelValues("critical").Set(float64(critical))
	SessionsAtRisk.WithLabelValues("risky").Set(float64(risky))
}
