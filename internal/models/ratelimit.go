// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package models

// RateLimiterState is the persisted call history of one rate limiter tier.
type RateLimiterState struct {
	Label string  `json:"label"`
	Calls []int64 `json:"calls"`
}

// PeerSentinel marks how far back a peer's historical scan has reached.
// Scans never need to look before TS again.
type PeerSentinel struct {
	Athlete int64 `json:"athlete"`
	TS      int64 `json:"ts"`
}
