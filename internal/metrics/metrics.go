// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package metrics registers the Prometheus instruments exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync jobs and the control loop
	SyncJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "athletesync_sync_jobs_active",
			Help: "Number of sync jobs currently running",
		},
	)

	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_sync_jobs_total",
			Help: "Completed sync jobs by final status",
		},
		[]string{"status"}, // complete, error, activities-scan, streams-sync (cancelled)
	)

	SyncJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "athletesync_sync_job_duration_seconds",
			Help:    "Duration of sync jobs in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		},
	)

	SyncLoopErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "athletesync_sync_loop_errors_total",
			Help: "Errors raised by the sync manager control loop",
		},
	)

	// Pipeline
	StreamsFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_streams_fetches_total",
			Help: "Streams fetch attempts by outcome",
		},
		[]string{"outcome"}, // ok, not_found, throttled, error
	)

	ActivitiesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_activities_discovered_total",
			Help: "New activities imported by discovery",
		},
		[]string{"source"}, // self, peer
	)

	LocalProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athletesync_local_processing_duration_seconds",
			Help:    "Duration of one local processor run over a group of activities",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor", "version"},
	)

	LocalProcessingActivities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_local_processing_activities_total",
			Help: "Activities passed through local processors by result",
		},
		[]string{"processor", "result"}, // ok, error
	)

	// Rate limiter
	RateLimiterWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_rate_limiter_sleeps_total",
			Help: "Times a rate limiter group had to sleep before admitting a call",
		},
		[]string{"group"},
	)

	RateLimiterSleepSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_rate_limiter_sleep_seconds_total",
			Help: "Total time spent sleeping in rate limiter groups",
		},
		[]string{"group"},
	)

	RateLimiterUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "athletesync_rate_limiter_usage",
			Help: "Calls currently counted in each rate limiter window",
		},
		[]string{"label"},
	)

	// Remote client
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_remote_requests_total",
			Help: "Remote HTTP requests by status class",
		},
		[]string{"status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "athletesync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "athletesync_circuit_breaker_consecutive_failures",
			Help: "Consecutive failures counted by the circuit breaker",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Worker pool
	WorkerPoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "athletesync_worker_pool_workers",
			Help: "Worker pool workers by state",
		},
		[]string{"state"}, // busy, idle
	)

	WorkerPoolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_worker_pool_calls_total",
			Help: "Worker pool calls by function and result",
		},
		[]string{"call", "result"},
	)

	WorkerPoolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athletesync_worker_pool_call_duration_seconds",
			Help:    "Worker pool call duration including queueing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_events_published_total",
			Help: "Sync events published by kind",
		},
		[]string{"kind"},
	)

	// Storage
	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_store_gc_runs_total",
			Help: "Value log GC runs by result",
		},
		[]string{"result"}, // rewritten, noop, error
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athletesync_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athletesync_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// RecordSyncJob records a finished sync job.
func RecordSyncJob(status string, duration time.Duration) {
	SyncJobsTotal.WithLabelValues(status).Inc()
	SyncJobDuration.Observe(duration.Seconds())
}

// RecordLocalProcessing records one processor run over n activities, of
// which failed ended with a sync error.
func RecordLocalProcessing(processor string, version int, duration time.Duration, n, failed int) {
	LocalProcessingDuration.WithLabelValues(processor, strconv.Itoa(version)).Observe(duration.Seconds())
	if ok := n - failed; ok > 0 {
		LocalProcessingActivities.WithLabelValues(processor, "ok").Add(float64(ok))
	}
	if failed > 0 {
		LocalProcessingActivities.WithLabelValues(processor, "error").Add(float64(failed))
	}
}

// RecordRemoteStatus records a remote response status code.
func RecordRemoteStatus(code int) {
	RemoteRequests.WithLabelValues(statusClass(code)).Inc()
}

// RecordAPIRequest records an HTTP API request.
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "transport_error"
	case code == 429:
		return "429"
	case code == 404:
		return "404"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
