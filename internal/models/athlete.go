// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package models

import (
	"fmt"
	"time"
)

// Athlete sync statuses.
const (
	SyncStatusNew = "new"
)

// ValueAt is one entry of a dated profile history (FTP, weight).
type ValueAt struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// HRZones holds the upper bound of each heart rate zone in bpm.
type HRZones struct {
	Z1 float64 `json:"z1"`
	Z2 float64 `json:"z2"`
	Z3 float64 `json:"z3"`
	Z4 float64 `json:"z4"`
}

// Athlete is a person whose activity history is synchronized.
type Athlete struct {
	ID         int64  `json:"id" validate:"required,gt=0"`
	Name       string `json:"name" validate:"required"`
	Gender     string `json:"gender" validate:"required,oneof=male female"`
	Sync       bool   `json:"sync"`
	LastSync   int64  `json:"last_sync"`
	LastError  int64  `json:"last_error"`
	SyncStatus string `json:"sync_status,omitempty"`

	// HRZones is nil until fetched. HRZonesChecked distinguishes "never
	// fetched" from "fetched but unavailable".
	HRZones        *HRZones `json:"hr_zones,omitempty"`
	HRZonesChecked bool     `json:"hr_zones_checked,omitempty"`

	FTPHistory    []ValueAt `json:"ftp_history,omitempty"`
	WeightHistory []ValueAt `json:"weight_history,omitempty"`
}

func (a *Athlete) String() string {
	return fmt.Sprintf("Athlete(%d, %q)", a.ID, a.Name)
}

// FTPAt returns the FTP in effect at ts, or 0 when unknown.
func (a *Athlete) FTPAt(ts int64) float64 {
	return valueAt(a.FTPHistory, ts)
}

// WeightAt returns the weight in kg in effect at ts, or 0 when unknown.
func (a *Athlete) WeightAt(ts int64) float64 {
	return valueAt(a.WeightHistory, ts)
}

// LastSyncTime returns LastSync as a time.Time.
func (a *Athlete) LastSyncTime() time.Time {
	return time.UnixMilli(a.LastSync)
}

// valueAt picks the most recent entry at or before ts. Dates before the
// first entry fall back to the earliest known value.
func valueAt(hist []ValueAt, ts int64) float64 {
	if len(hist) == 0 {
		return 0
	}
	var best *ValueAt
	earliest := &hist[0]
	for i := range hist {
		v := &hist[i]
		if v.TS < earliest.TS {
			earliest = v
		}
		if v.TS <= ts && (best == nil || v.TS > best.TS) {
			best = v
		}
	}
	if best == nil {
		return earliest.Value
	}
	return best.Value
}
