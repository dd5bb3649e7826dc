// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package services adapts Athletesync components to suture.Service.

Each wrapper translates a component lifecycle (ListenAndServe/Shutdown, a
periodic maintenance task) into suture's context-aware Serve and implements
fmt.Stringer so supervisor events name the service.

Available services:

  - HTTPServerService: runs an *http.Server and shuts it down gracefully
    with a bounded timeout when the context ends.
  - StoreGCService: runs badger value log garbage collection on a fixed
    interval.

The sync manager holder (sync.Holder) already implements suture.Service
and is added to the sync layer directly.
*/
package services
