// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package models

import (
	"fmt"
	"math"
	"time"
)

// Sync target names.
const (
	TargetStreams = "streams"
	TargetLocal   = "local"
)

// VersionNever marks a target that will never have data (for example, the
// remote activity was deleted). It sorts below every real version.
const VersionNever = math.MinInt32

// BaseType is the coarse sport category of an activity.
type BaseType string

const (
	BaseTypeRide    BaseType = "ride"
	BaseTypeRun     BaseType = "run"
	BaseTypeSwim    BaseType = "swim"
	BaseTypeSki     BaseType = "ski"
	BaseTypeEBike   BaseType = "ebike"
	BaseTypeWorkout BaseType = "workout"
)

// SyncError records a failed attempt at a specific manifest version.
type SyncError struct {
	TS      int64  `json:"ts"`
	Message string `json:"message"`
	Version int    `json:"version"`
}

// SyncState is the per-target state of an activity. Version 0 means no
// version has been applied yet.
type SyncState struct {
	Version int        `json:"version,omitempty"`
	Error   *SyncError `json:"error,omitempty"`
}

// ActivityStats are the derived statistics computed locally.
type ActivityStats struct {
	KJ        float64 `json:"kj,omitempty"`
	Power     float64 `json:"power,omitempty"`
	NP        float64 `json:"np,omitempty"`
	XP        float64 `json:"xp,omitempty"`
	TSS       float64 `json:"tss,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	TTSS      float64 `json:"ttss,omitempty"`
}

// Activity is one remote activity owned by an athlete.
type Activity struct {
	ID        int64                 `json:"id"`
	Athlete   int64                 `json:"athlete"`
	TS        int64                 `json:"ts"`
	BaseType  BaseType              `json:"basetype"`
	Name      string                `json:"name,omitempty"`
	Type      string                `json:"type,omitempty"`
	Trainer   bool                  `json:"trainer,omitempty"`
	Stats     *ActivityStats        `json:"stats,omitempty"`
	SyncState map[string]*SyncState `json:"sync_state,omitempty"`
}

func (a *Activity) String() string {
	return fmt.Sprintf("Activity(%d, athlete=%d)", a.ID, a.Athlete)
}

// State returns the sync state for target, or nil when never touched.
func (a *Activity) State(target string) *SyncState {
	if a.SyncState == nil {
		return nil
	}
	return a.SyncState[target]
}

func (a *Activity) state(target string) *SyncState {
	if a.SyncState == nil {
		a.SyncState = make(map[string]*SyncState)
	}
	s := a.SyncState[target]
	if s == nil {
		s = &SyncState{}
		a.SyncState[target] = s
	}
	return s
}

// SyncVersion returns the applied version for target (0 if none).
func (a *Activity) SyncVersion(target string) int {
	if s := a.State(target); s != nil {
		return s.Version
	}
	return 0
}

// SetSyncVersion records version as applied for target and clears any
// recorded error.
func (a *Activity) SetSyncVersion(target string, version int) {
	s := a.state(target)
	s.Version = version
	s.Error = nil
}

// SetSyncError records a failed attempt at version for target.
func (a *Activity) SetSyncError(target string, err error, version int, now time.Time) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	a.state(target).Error = &SyncError{
		TS:      now.UnixMilli(),
		Message: msg,
		Version: version,
	}
}

// ClearSyncError removes the recorded error for target.
func (a *Activity) ClearSyncError(target string) {
	if s := a.State(target); s != nil {
		s.Error = nil
	}
}

// HasSyncError reports whether target has a recorded error.
func (a *Activity) HasSyncError(target string) bool {
	s := a.State(target)
	return s != nil && s.Error != nil
}

// ClearSyncState forgets everything about target.
func (a *Activity) ClearSyncState(target string) {
	delete(a.SyncState, target)
}
