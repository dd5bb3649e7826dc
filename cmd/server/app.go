// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/tomtom215/athletesync/internal/api"
	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/discovery"
	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/processors"
	"github.com/tomtom215/athletesync/internal/ratelimit"
	"github.com/tomtom215/athletesync/internal/remote"
	"github.com/tomtom215/athletesync/internal/store"
	"github.com/tomtom215/athletesync/internal/supervisor"
	"github.com/tomtom215/athletesync/internal/supervisor/services"
	syncpkg "github.com/tomtom215/athletesync/internal/sync"
	"github.com/tomtom215/athletesync/internal/workerpool"
)

// streamsLimiterName names the rate limiter group shared by all streams
// fetches, including ones reported through the API.
const streamsLimiterName = "streams"

// app holds the constructed components. Nothing runs until register adds
// the long-lived ones to a supervisor tree.
type app struct {
	cfg     *config.Config
	store   *store.Store
	bus     *events.Bus
	pool    *workerpool.Pool
	holder  *syncpkg.Holder
	service *syncpkg.Service
	server  *http.Server
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, store: st}

	client := remote.NewClient(&cfg.Remote)

	limiter, err := ratelimit.NewGroup(streamsLimiterName, st, ratelimit.TiersFromConfig(cfg.RateLimit.Tiers()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	disc := discovery.New(client, client, st)
	procs := processors.New(st, client, cfg.Sync.BulkStreamsThreshold)
	pipeline := syncpkg.NewPipeline(st, client, limiter, procs.Manifest(),
		syncpkg.WithBatchSize(cfg.Sync.LocalBatchSize),
		syncpkg.WithThrottleDelay(cfg.Remote.ThrottleBaseDelay),
	)

	a.bus, err = events.NewBus(cfg.Events)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create event bus: %w", err)
	}
	a.pool = workerpool.New(cfg.WorkerPool, workerpool.DefaultRegistry())

	factory := func(user int64) *syncpkg.Manager {
		logging.Info().Int64("current_user", user).Msg("Creating sync manager")
		return syncpkg.NewManager(user, st, disc, pipeline, a.bus, cfg.Sync)
	}
	a.holder = syncpkg.NewHolder(factory, cfg.Sync.CurrentUser)

	a.service = syncpkg.NewService(syncpkg.ServiceDeps{
		Store:   st,
		Holder:  a.holder,
		Limiter: limiter,
		Local:   pipeline.LocalManifest(),
		Pool:    a.pool,
		FTP:     client,
		Events:  a.bus,
	})

	handler := api.NewHandler(api.HandlerDeps{
		Service: a.service,
		Holder:  a.holder,
		Limiter: limiter,
		Server:  cfg.Server,
	})
	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFromServer(cfg.Server))
	router := api.NewRouter(handler, mw)

	a.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return a, nil
}

// register adds the supervised services to tree.
func (a *app) register(tree *supervisor.SupervisorTree) {
	tree.AddDataService(services.NewStoreGCService(a.store, a.cfg.Storage.GCInterval, a.cfg.Storage.GCDiscardRatio))
	tree.AddSyncService(a.holder)
	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))
}

// Close releases the bus, the pool and the store. Safe on a partially
// built app.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}
}
