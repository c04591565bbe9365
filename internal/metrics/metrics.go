// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Sync engine runs and per-phase failures
// - Matrix Client-Server API calls
// - Circuit breaker state
// - DuckDB query performance
// - API endpoint latency and throughput

var (
	// Sync Engine Metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"status"}, // "success", "partial_success", "skipped", "failed"
	)

	SyncSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_skipped_total",
			Help: "Total number of skipped sync triggers by reason",
		},
		[]string{"reason"}, // "sync_in_progress", "rate_limited"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600}, // Sync runs can take minutes on large homeservers
		},
	)

	SyncPhaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_phase_errors_total",
			Help: "Total number of sync phase failures",
		},
		[]string{"phase"}, // "users", "rooms", "memberships"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last sync that advanced the cooldown window",
		},
	)

	UsersSynced = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_users_last_run",
			Help: "Number of distinct users upserted by the last user phase",
		},
	)

	RoomsSynced = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_rooms_last_run",
			Help: "Number of rooms upserted by the last room phase",
		},
	)

	MembershipsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_memberships_upserted_total",
			Help: "Total number of membership rows upserted",
		},
	)

	MembershipsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_memberships_evicted_total",
			Help: "Total number of stale membership rows evicted",
		},
	)

	// Matrix Client-Server API Metrics
	MatrixAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrix_api_requests_total",
			Help: "Total number of Matrix API requests",
		},
		[]string{"endpoint", "outcome"}, // outcome: "success", "error", "rate_limited", "auth_failed"
	)

	MatrixAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matrix_api_request_duration_seconds",
			Help:    "Duration of Matrix API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"}, // "joined_rooms", "room_state", "room_members"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordSyncRun records the outcome and duration of a completed sync run.
// Skipped runs are recorded via RecordSyncSkip instead so the duration
// histogram only reflects runs that did work.
func RecordSyncRun(status string, duration time.Duration) {
	SyncRuns.WithLabelValues(status).Inc()
	SyncDuration.Observe(duration.Seconds())
}

// RecordSyncSkip records a sync trigger that was skipped.
func RecordSyncSkip(reason string) {
	SyncRuns.WithLabelValues("skipped").Inc()
	SyncSkipped.WithLabelValues(reason).Inc()
}

// RecordSyncSuccess updates the last-success timestamp gauge.
func RecordSyncSuccess() {
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordMatrixAPIRequest records a Matrix API call.
func RecordMatrixAPIRequest(endpoint, outcome string, duration time.Duration) {
	MatrixAPIRequests.WithLabelValues(endpoint, outcome).Inc()
	MatrixAPIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
