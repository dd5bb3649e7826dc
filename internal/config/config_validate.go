// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/athletesync/internal/validation"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateWorkerPool(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRemote() error {
	if err := validateHTTPURL(c.Remote.BaseURL, "remote.base_url"); err != nil {
		return err
	}
	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries must be >= 0, got %d", c.Remote.MaxRetries)
	}
	if c.Remote.RetryBaseDelay < 0 || c.Remote.ThrottleBaseDelay < 0 {
		return fmt.Errorf("remote retry delays must not be negative")
	}
	if c.Remote.DiscoveryRPS < 0 {
		return fmt.Errorf("remote.discovery_rps must be >= 0")
	}
	cb := c.Remote.CircuitBreaker
	if cb.Enabled && (cb.FailureRatio <= 0 || cb.FailureRatio > 1) {
		return fmt.Errorf("remote.circuit_breaker.failure_ratio must be in (0, 1], got %v", cb.FailureRatio)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	if c.Storage.GCDiscardRatio <= 0 || c.Storage.GCDiscardRatio >= 1 {
		return fmt.Errorf("storage.gc_discard_ratio must be in (0, 1), got %v", c.Storage.GCDiscardRatio)
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.CurrentUser < 0 {
		return fmt.Errorf("sync.current_user must not be negative")
	}
	if s.RefreshInterval <= 0 {
		return fmt.Errorf("sync.refresh_interval must be positive")
	}
	if s.RefreshErrorBackoff < 0 {
		return fmt.Errorf("sync.refresh_error_backoff must not be negative")
	}
	if s.LocalBatchSize < 1 {
		return fmt.Errorf("sync.local_batch_size must be >= 1")
	}
	if s.BulkStreamsThreshold < 0 {
		return fmt.Errorf("sync.bulk_streams_threshold must be >= 0")
	}
	if s.LoopBackoffInitial <= 0 || s.LoopBackoffMultiplier < 1 {
		return fmt.Errorf("sync loop backoff requires a positive initial interval and a multiplier >= 1")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	seen := make(map[string]bool)
	for _, tier := range c.RateLimit.Tiers() {
		if verr := validation.ValidateStruct(&tier); verr != nil {
			return fmt.Errorf("rate_limit tier %q: %w", tier.Label, verr)
		}
		if seen[tier.Label] {
			return fmt.Errorf("rate_limit tier label %q is used more than once", tier.Label)
		}
		seen[tier.Label] = true
	}
	return nil
}

func (c *Config) validateWorkerPool() error {
	if c.WorkerPool.MaxWorkers < 0 {
		return fmt.Errorf("worker_pool.max_workers must be >= 0")
	}
	if c.WorkerPool.IdleTimeout <= 0 {
		return fmt.Errorf("worker_pool.idle_timeout must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests < 0 {
		return fmt.Errorf("server.rate_limit_requests must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func validateHTTPURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("%s should be base URL only, remove path: %s", field, u.Path)
	}
	return nil
}
