// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package main is the entry point for the Athletesync server.

Athletesync keeps a local copy of athletes' activity histories in sync with
a remote activity service. For every enabled athlete it discovers new
activities, fetches their streams within the remote rate limits, and runs
versioned local processing (activity stats, running power, active stream)
over everything that is out of date.

# Application Architecture

	RootSupervisor ("athletesync")
	├── DataSupervisor ("data-layer")
	│   └── Store GC (badger value log)
	├── SyncSupervisor ("sync-layer")
	│   └── Sync holder (Manager for the current user)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (management API, events, metrics)

Component initialization order:

 1. Configuration: Koanf v2 (defaults, config file, environment)
 2. Logging: zerolog, json or console
 3. Store: BadgerDB
 4. Remote client: retries, discovery pacing and circuit breaker
 5. Rate limiter group: persisted streams tiers
 6. Discovery, local processors and the streams pipeline
 7. Event bus (watermill, optional NATS forwarding) and worker pool
 8. Sync holder and service
 9. HTTP API (chi)
 10. Supervisor tree (suture v4)

# Configuration

Priority: environment variables > config file > defaults.

	ATHLETESYNC_REMOTE_BASE_URL=https://www.strava.com
	ATHLETESYNC_REMOTE_SESSION_COOKIE=...   # sent verbatim as Cookie
	ATHLETESYNC_CURRENT_USER=123456         # 0 runs without a sync manager
	ATHLETESYNC_STORAGE_PATH=/data/athletesync
	ATHLETESYNC_HTTP_PORT=8711
	ATHLETESYNC_NATS_URL=nats://localhost:4222  # optional event forwarding
	ATHLETESYNC_LOG_LEVEL=info
	ATHLETESYNC_LOG_FORMAT=json

CONFIG_PATH selects a YAML config file; otherwise config.yaml and
/etc/athletesync/config.yaml are tried.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains within
its shutdown timeout, the running sync job is cancelled and joined, and the
event bus, worker pool and store are closed in that order.
*/
package main
