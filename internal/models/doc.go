// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package models defines the records persisted by the store and passed through
the sync pipeline.

Key Components:

  - Athlete: identity, sync flags and the profile data consumed by local
    processors (HR zones, FTP and weight history)
  - Activity: one remote activity plus its per-target sync state
  - SyncState: last applied version for a sync target, or the error recorded
    for the last attempt
  - StreamRecord: one named time series for an activity

Sync Targets:

Every activity tracks two independent targets:

  - "streams": remote time-series data has been fetched
  - "local": locally derived streams and stats have been computed

A target is up to date when its stored version is at or above the highest
version of the target's manifest, or when it holds VersionNever.

Timestamps:

All timestamps in this package are Unix milliseconds, matching the remote
service and keeping the stored records compact.
*/
package models
