// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package supervisor provides process supervision for Athletesync using suture v4.

Long-running services are organized into three layers so that a failure in
one restarts only that layer:

	RootSupervisor ("athletesync")
	├── DataSupervisor ("data-layer")
	│   └── StoreGCService
	├── SyncSupervisor ("sync-layer")
	│   └── sync.Holder (runs the Manager for the current user)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Supervisor events (starts, failures, backoff) are logged through sutureslog.
Since the rest of the program logs with zerolog, main passes a slog.Logger
backed by logging.NewSlogHandler.

Usage:

	tree, err := supervisor.NewSupervisorTree(slog.New(logging.NewSlogHandler()), cfg.Supervisor)
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewStoreGCService(st, cfg.Storage.GCInterval, cfg.Storage.GCDiscardRatio))
	tree.AddSyncService(holder)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor tree stopped")
	}

Services returning suture.ErrDoNotRestart are not restarted; a service may
return suture.ErrTerminateSupervisorTree to bring the whole process down.
*/
package supervisor
