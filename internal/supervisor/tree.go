// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/athletesync/internal/config"
)

// Tree defaults, matching suture's own.
const (
	defaultFailureThreshold = 5.0
	defaultFailureDecay     = 30.0
	defaultFailureBackoff   = 15 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// DefaultTreeConfig returns the suture defaults as a SupervisorConfig.
func DefaultTreeConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		FailureThreshold: defaultFailureThreshold,
		FailureDecay:     defaultFailureDecay,
		FailureBackoff:   defaultFailureBackoff,
		ShutdownTimeout:  defaultShutdownTimeout,
	}
}

// SupervisorTree is the process supervision hierarchy.
//
// The tree has three layers:
//   - data: store value log GC
//   - sync: the sync manager holder
//   - api: HTTP server
//
// A sync manager crash restarts only the sync layer; the API keeps serving
// athlete and stream data from the store meanwhile.
type SupervisorTree struct {
	root   *suture.Supervisor
	data   *suture.Supervisor
	sync   *suture.Supervisor
	api    *suture.Supervisor
	logger *slog.Logger
	config config.SupervisorConfig
}

// NewSupervisorTree builds the tree. Zero config values take the defaults.
func NewSupervisorTree(logger *slog.Logger, cfg config.SupervisorConfig) (*SupervisorTree, error) {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = defaultFailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = defaultFailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	// Children inherit the EventHook from the root when added.
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &SupervisorTree{
		root:   suture.New("athletesync", rootSpec),
		data:   suture.New("data-layer", childSpec),
		sync:   suture.New("sync-layer", childSpec),
		api:    suture.New("api-layer", childSpec),
		logger: logger,
		config: cfg,
	}
	t.root.Add(t.data)
	t.root.Add(t.sync)
	t.root.Add(t.api)
	return t, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// Config returns the effective configuration after defaults.
func (t *SupervisorTree) Config() config.SupervisorConfig {
	return t.config
}

// AddDataService adds a service to the data layer.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddSyncService adds a service to the sync layer.
func (t *SupervisorTree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// RemoveSyncService removes a service added with AddSyncService.
func (t *SupervisorTree) RemoveSyncService(token suture.ServiceToken) error {
	return t.sync.Remove(token)
}

// Serve runs the tree until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel receives the
// result when the tree stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived the shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
