// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package events carries per-athlete sync notifications.
//
// Each athlete has its own topic ("athlete.<id>") on an in-process watermill
// gochannel. When a NATS URL is configured every event is also forwarded to
// "<subject>.<id>" on a core NATS connection for out-of-process listeners.
package events

import (
	"strconv"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	KindStart    Kind = "start"
	KindStop     Kind = "stop"
	KindProgress Kind = "progress"
	KindEnable   Kind = "enable"
	KindDisable  Kind = "disable"
	KindError    Kind = "error"
)

// Progress stages.
const (
	ProgressStreams = "streams"
	ProgressLocal   = "local"
)

// Progress describes work finished within a running job.
type Progress struct {
	Sync       string  `json:"sync"`
	Activity   int64   `json:"activity,omitempty"`
	Activities []int64 `json:"activities,omitempty"`
}

// Event is one notification about an athlete.
type Event struct {
	Kind     Kind      `json:"kind"`
	Athlete  int64     `json:"athlete"`
	Status   string    `json:"status,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
	TS       time.Time `json:"ts"`
}

// Topic returns the bus topic of an athlete.
func Topic(athlete int64) string {
	return "athlete." + strconv.FormatInt(athlete, 10)
}
