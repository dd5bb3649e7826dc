// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package manifest

import (
	"context"
	"time"

	"github.com/tomtom215/athletesync/internal/models"
)

// StreamNames is the set of remote streams requested by a streams entry.
type StreamNames []string

// Processor computes local data for a group of activities that share the
// same due entry. Per-activity failures go through Batch.Fail; a returned
// error fails the whole group.
type Processor func(ctx context.Context, b *Batch) error

// Batch is the input of one processor run.
type Batch struct {
	Athlete    *models.Athlete
	Activities []*models.Activity
	Version    int
	Now        time.Time

	// SaveAthlete applies fn to the stored athlete under the manager's
	// athlete lock and persists it. b.Athlete is updated on success.
	SaveAthlete func(ctx context.Context, fn func(*models.Athlete)) error
}

// Fail records err as a local error for a at the batch's version.
func (b *Batch) Fail(a *models.Activity, err error) {
	a.SetSyncError(models.TargetLocal, err, b.Version, b.Now)
}

// Streams is the manifest type for the streams target.
type Streams = Manifest[StreamNames]

// Local is the manifest type for the local target.
type Local = Manifest[Processor]

// DefaultStreamNames are the streams fetched for every activity.
var DefaultStreamNames = StreamNames{
	"time",
	"heartrate",
	"altitude",
	"distance",
	"moving",
	"velocity_smooth",
	"cadence",
	"latlng",
	"watts",
	"watts_calc",
	"grade_adjusted_distance",
	"temp",
}

// DefaultStreams returns the streams manifest.
func DefaultStreams() *Streams {
	return MustNew(models.TargetStreams, Entry[StreamNames]{
		Version:      1,
		ErrorBackoff: 24 * time.Hour,
		Data:         DefaultStreamNames,
	})
}
