// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/athletesync/config.yaml",
	"/etc/athletesync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variables before mapping.
const EnvPrefix = "ATHLETESYNC_"

func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:           "https://www.strava.com",
			Timeout:           30 * time.Second,
			MaxRetries:        5,
			RetryBaseDelay:    time.Second,
			ThrottleBaseDelay: 60 * time.Second,
			DiscoveryRPS:      5,
			DiscoveryBurst:    25,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      true,
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      2 * time.Minute,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		Storage: StorageConfig{
			Path:           "/data/athletesync",
			InMemory:       false,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Sync: SyncConfig{
			RefreshInterval:       12 * time.Hour,
			RefreshErrorBackoff:   time.Hour,
			LocalBatchSize:        1000,
			BulkStreamsThreshold:  50,
			LoopBackoffInitial:    time.Second,
			LoopBackoffMultiplier: 1.5,
			LoopBackoffMax:        10 * time.Minute,
		},
		// Stay within remote API limits: roughly 40/min, 300/hour and 1000/day.
		RateLimit: RateLimitConfig{
			StreamsMinute: TierConfig{Label: "streams-min", Period: 65 * time.Second, Limit: 30, Spread: true},
			StreamsHour:   TierConfig{Label: "streams-hour", Period: (3600 + 500) * time.Second, Limit: 200},
			StreamsDay:    TierConfig{Label: "streams-day", Period: (86400 + 3600) * time.Second, Limit: 700},
		},
		WorkerPool: WorkerPoolConfig{
			MaxWorkers:  0,
			IdleTimeout: 30 * time.Second,
			CallTimeout: 5 * time.Minute,
		},
		Events: EventsConfig{
			BufferSize:    64,
			NATSSubject:   "athletesync.events",
			NATSClientID:  "athletesync",
			NATSReconnect: 60,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8711,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration from three layers:
//  1. built-in defaults
//  2. the first config file found (CONFIG_PATH, then DefaultConfigPaths)
//  3. ATHLETESYNC_* environment variables
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps ATHLETESYNC_-stripped, lowercased variable names to
// config paths. Unmapped variables are ignored.
var envMappings = map[string]string{
	"remote_base_url":            "remote.base_url",
	"remote_session_cookie":      "remote.session_cookie",
	"remote_timeout":             "remote.timeout",
	"remote_max_retries":         "remote.max_retries",
	"remote_retry_base_delay":    "remote.retry_base_delay",
	"remote_throttle_base_delay": "remote.throttle_base_delay",
	"remote_discovery_rps":       "remote.discovery_rps",
	"remote_discovery_burst":     "remote.discovery_burst",
	"circuit_breaker_enabled":    "remote.circuit_breaker.enabled",

	"storage_path":             "storage.path",
	"storage_in_memory":        "storage.in_memory",
	"storage_gc_interval":      "storage.gc_interval",
	"storage_gc_discard_ratio": "storage.gc_discard_ratio",

	"current_user":           "sync.current_user",
	"refresh_interval":       "sync.refresh_interval",
	"refresh_error_backoff":  "sync.refresh_error_backoff",
	"local_batch_size":       "sync.local_batch_size",
	"bulk_streams_threshold": "sync.bulk_streams_threshold",

	"streams_minute_limit":  "rate_limit.streams_minute.limit",
	"streams_minute_period": "rate_limit.streams_minute.period",
	"streams_hour_limit":    "rate_limit.streams_hour.limit",
	"streams_hour_period":   "rate_limit.streams_hour.period",
	"streams_day_limit":     "rate_limit.streams_day.limit",
	"streams_day_period":    "rate_limit.streams_day.period",

	"worker_pool_max_workers":  "worker_pool.max_workers",
	"worker_pool_idle_timeout": "worker_pool.idle_timeout",
	"worker_pool_call_timeout": "worker_pool.call_timeout",

	"events_buffer_size": "events.buffer_size",
	"nats_url":           "events.nats_url",
	"nats_subject":       "events.nats_subject",

	"http_host":               "server.host",
	"http_port":               "server.port",
	"http_shutdown_timeout":   "server.shutdown_timeout",
	"cors_origins":            "server.cors_origins",
	"api_rate_limit_requests": "server.rate_limit_requests",
	"api_rate_limit_window":   "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps ATHLETESYNC_REFRESH_INTERVAL to sync.refresh_interval.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
