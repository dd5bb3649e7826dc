// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package sync schedules and runs per-athlete activity synchronization.

Components:
  - Manager: the control loop deciding which athletes get a Job, with at
    most one active job per athlete
  - Job: discovery followed by the streams pipeline for one athlete
  - Pipeline: a rate limited fetch stage feeding a batched local
    processing stage through a Queue
  - Controller: per-athlete management actions and derived metrics
  - Holder: owns the manager for the current user and rebuilds it when the
    identity changes
  - Service: athlete administration, stream export and import, and
    analysis calls through the worker pool

Scheduling:

An enabled athlete is due when its last sync is older than the refresh
interval and its last failure is older than the error backoff, or when a
refresh was explicitly requested. The loop sleeps until the soonest
deadline or until woken by enable, disable, refresh requests and job
completion.

Pipeline:

	fetch stage ──(activity)──▶ Queue ──▶ local stage
	     │                                   │
	rate limiter                     manifest groups

The fetch stage always ends the queue with a terminal marker so the local
stage stops even when fetching fails or is cancelled.
*/
package sync
