// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package manifest describes the versioned processing steps of each sync
// target and decides which step, if any, is due for an activity.
package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/athletesync/internal/models"
)

// ErrInvalidManifest is returned when entries are empty, unordered or have
// a non-positive version or backoff.
var ErrInvalidManifest = errors.New("invalid manifest")

// Entry is one versioned step of a manifest.
type Entry[P any] struct {
	Version      int
	ErrorBackoff time.Duration
	Data         P
}

// Manifest is the ordered list of steps for one sync target. It is
// read-only after construction.
type Manifest[P any] struct {
	target  string
	entries []Entry[P]
}

// New builds a manifest for target. Entries must be in strictly ascending
// version order.
func New[P any](target string, entries ...Entry[P]) (*Manifest[P], error) {
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidManifest)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s has no entries", ErrInvalidManifest, target)
	}
	prev := 0
	for _, e := range entries {
		if e.Version <= prev {
			return nil, fmt.Errorf("%w: %s version %d must be positive and greater than %d",
				ErrInvalidManifest, target, e.Version, prev)
		}
		if e.ErrorBackoff <= 0 {
			return nil, fmt.Errorf("%w: %s version %d needs a positive error backoff",
				ErrInvalidManifest, target, e.Version)
		}
		prev = e.Version
	}
	cp := make([]Entry[P], len(entries))
	copy(cp, entries)
	return &Manifest[P]{target: target, entries: cp}, nil
}

// MustNew is New that panics on error. Intended for static registrations.
func MustNew[P any](target string, entries ...Entry[P]) *Manifest[P] {
	m, err := New(target, entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Target returns the sync target name.
func (m *Manifest[P]) Target() string { return m.target }

// Entries returns a copy of the entries.
func (m *Manifest[P]) Entries() []Entry[P] {
	cp := make([]Entry[P], len(m.entries))
	copy(cp, m.entries)
	return cp
}

// Latest returns the highest version.
func (m *Manifest[P]) Latest() int {
	return m.entries[len(m.entries)-1].Version
}

// IsLatest reports whether a stored version needs no further work.
func (m *Manifest[P]) IsLatest(version int) bool {
	return version == models.VersionNever || version >= m.Latest()
}

// Pending returns the lowest entry above the stored version regardless of
// error backoff, or nil when up to date.
func (m *Manifest[P]) Pending(state *models.SyncState) *Entry[P] {
	version := 0
	if state != nil {
		version = state.Version
	}
	if m.IsLatest(version) {
		return nil
	}
	for i := range m.entries {
		if m.entries[i].Version > version {
			return &m.entries[i]
		}
	}
	return nil
}

// NextDue returns the entry that should run now, or nil when the state is
// up to date or the pending entry failed within its error backoff.
func (m *Manifest[P]) NextDue(state *models.SyncState, now time.Time) *Entry[P] {
	e := m.Pending(state)
	if e == nil {
		return nil
	}
	if state != nil && state.Error != nil && state.Error.Version == e.Version {
		if now.Sub(time.UnixMilli(state.Error.TS)) < e.ErrorBackoff {
			return nil
		}
	}
	return e
}

// NextSync is NextDue for an activity's state in this manifest's target.
func (m *Manifest[P]) NextSync(a *models.Activity, now time.Time) *Entry[P] {
	return m.NextDue(a.State(m.target), now)
}

// ActivityIsLatest reports whether the activity is up to date for this target.
func (m *Manifest[P]) ActivityIsLatest(a *models.Activity) bool {
	return m.IsLatest(a.SyncVersion(m.target))
}

// SetLatest marks the activity up to date and clears its error.
func (m *Manifest[P]) SetLatest(a *models.Activity) {
	a.SetSyncVersion(m.target, m.Latest())
}

// SetNever marks the target as permanently unavailable.
func (m *Manifest[P]) SetNever(a *models.Activity) {
	a.SetSyncVersion(m.target, models.VersionNever)
}

// SetError records err against the version that was being attempted so a
// later manifest bump is not blocked by the old failure.
func (m *Manifest[P]) SetError(a *models.Activity, err error, now time.Time) {
	version := m.Latest()
	if e := m.Pending(a.State(m.target)); e != nil {
		version = e.Version
	}
	a.SetSyncError(m.target, err, version, now)
}
