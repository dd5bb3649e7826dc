// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
Package analysis implements the numeric functions used by local processing
and the worker pool.

All functions are pure and operate on parallel slices indexed by sample:

	time     seconds since activity start, strictly increasing
	watts    instantaneous power for the interval ending at the sample
	active   whether the athlete was moving at the sample

Power:
  - CorrectedPower resamples a power stream to 1Hz, filling short gaps with
    the reported value and long gaps (pauses) with zero
  - NP is the 30s rolling average raised to the 4th power (Coggan)
  - XP is the 25s exponentially weighted variant (Skiba)
  - TSS scales duration by the squared intensity factor

Heart rate:
  - TTSS derives a TSS equivalent from Banister TRIMP normalized by one hour
    at lactate threshold

Worker entry points:
  - FindPeaks returns the best rolling averages for a set of periods
  - BulkTSS computes TSS for many activities in one call
*/
package analysis
