// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package config loads Athletesync configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence (lowest
// first). See LoadWithKoanf.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Remote     RemoteConfig     `koanf:"remote"`
	Storage    StorageConfig    `koanf:"storage"`
	Sync       SyncConfig       `koanf:"sync"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	WorkerPool WorkerPoolConfig `koanf:"worker_pool"`
	Events     EventsConfig     `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// RemoteConfig configures the remote activity service client.
type RemoteConfig struct {
	// BaseURL is the scheme and host of the remote service.
	BaseURL string `koanf:"base_url"`

	// SessionCookie is sent verbatim as the Cookie header.
	SessionCookie string `koanf:"session_cookie"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the number of retries for 5xx responses.
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay is multiplied by the attempt number between 5xx retries.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// ThrottleBaseDelay is multiplied by the attempt number after a 429 on
	// the streams endpoint.
	ThrottleBaseDelay time.Duration `koanf:"throttle_base_delay"`

	// DiscoveryRPS paces listing/feed requests, which are not covered by the
	// streams rate limiter group. Zero disables pacing.
	DiscoveryRPS   float64 `koanf:"discovery_rps"`
	DiscoveryBurst int     `koanf:"discovery_burst"`

	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker around the remote client.
type CircuitBreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// StorageConfig configures the badger store.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCInterval is how often value log garbage collection runs.
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// SyncConfig configures the sync manager and pipeline.
type SyncConfig struct {
	// CurrentUser is the athlete id of the authenticated user. Zero means no
	// sync manager runs until one is set through the API.
	CurrentUser int64 `koanf:"current_user"`

	// RefreshInterval is the minimum time between syncs of one athlete.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// RefreshErrorBackoff defers an athlete after a failed sync.
	RefreshErrorBackoff time.Duration `koanf:"refresh_error_backoff"`

	// LocalBatchSize caps how many activities the local stage drains at once.
	LocalBatchSize int `koanf:"local_batch_size"`

	// BulkStreamsThreshold switches stream lookups from per-activity to
	// per-athlete key scans.
	BulkStreamsThreshold int `koanf:"bulk_streams_threshold"`

	LoopBackoffInitial    time.Duration `koanf:"loop_backoff_initial"`
	LoopBackoffMultiplier float64       `koanf:"loop_backoff_multiplier"`
	LoopBackoffMax        time.Duration `koanf:"loop_backoff_max"`
}

// TierConfig is one rate limiter window.
type TierConfig struct {
	Label  string        `koanf:"label" validate:"required"`
	Period time.Duration `koanf:"period" validate:"gt=0"`
	Limit  int           `koanf:"limit" validate:"gt=0"`
	Spread bool          `koanf:"spread"`
}

// RateLimitConfig configures the streams rate limiter group.
type RateLimitConfig struct {
	StreamsMinute TierConfig `koanf:"streams_minute"`
	StreamsHour   TierConfig `koanf:"streams_hour"`
	StreamsDay    TierConfig `koanf:"streams_day"`
}

// Tiers returns the configured tiers in ascending period order.
func (c RateLimitConfig) Tiers() []TierConfig {
	return []TierConfig{c.StreamsMinute, c.StreamsHour, c.StreamsDay}
}

// WorkerPoolConfig configures the analysis worker pool.
type WorkerPoolConfig struct {
	// MaxWorkers of zero means twice the number of CPUs.
	MaxWorkers  int           `koanf:"max_workers"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// EventsConfig configures the sync event bus.
type EventsConfig struct {
	BufferSize int64 `koanf:"buffer_size"`

	// NATSURL enables forwarding of sync events to a NATS server.
	NATSURL       string `koanf:"nats_url"`
	NATSSubject   string `koanf:"nats_subject"`
	NATSClientID  string `koanf:"nats_client_id"`
	NATSReconnect int    `koanf:"nats_max_reconnects"`
}

// ServerConfig configures the HTTP management API.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
