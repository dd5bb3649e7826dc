// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package api provides the HTTP management API for Athletesync.

It exposes the sync Service and per-athlete Controllers over a chi router:

  - Health: /api/v1/health, /live and /ready
  - Session: GET/PUT /api/v1/session reads or changes the current user, which
    restarts the sync manager
  - Athletes: list, add, get, enable and disable under /api/v1/athletes
  - Sync control: /api/v1/athletes/{id}/sync (status), /sync/start,
    /sync/cancel and /sync/invalidate
  - Events: /api/v1/athletes/{id}/events streams sync events over a WebSocket
  - Streams: NDJSON export per athlete, import, and external usage reporting
  - Analysis: /api/v1/analysis/peaks and /tss run on the worker pool
  - Metrics: /metrics serves Prometheus metrics

Middleware Stack:

Every request gets a request id and correlation id in its logging context,
real IP extraction, panic recovery and CORS (go-chi/cors). API routes add
IP keyed rate limiting (go-chi/httprate) and Prometheus request metrics
labelled by route pattern.

Responses:

All JSON endpoints answer with APIResponse: success flag, data or error, and
meta carrying the request id, timestamp and duration. Service errors are
mapped to status codes in one place, respondServiceError.
*/
package api
