// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package processors implements the local processing steps that derive
// data from fetched streams, and the manifest that orders them.
package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
)

// DefaultBulkThreshold is the batch size above which streams are loaded
// through the athlete index instead of per activity.
const DefaultBulkThreshold = 50

// Derived stream names.
const (
	StreamActive    = "active"
	StreamWattsCalc = "watts_calc"
)

// StreamStore is the stream persistence used by processors.
type StreamStore interface {
	ActivityStreams(ctx context.Context, activity int64) (models.StreamSet, error)
	StreamKeysForAthlete(ctx context.Context, athlete int64) ([]models.StreamKey, error)
	GetStreams(ctx context.Context, keys []models.StreamKey) ([]models.StreamRecord, error)
	PutStreams(ctx context.Context, recs []models.StreamRecord) error
}

// ZoneSource looks up an athlete's heart rate zones. The lookup is keyed by
// any activity of the athlete.
type ZoneSource interface {
	FetchHRZones(ctx context.Context, activityID int64) (*models.HRZones, error)
}

// Processors holds the dependencies of the local processing steps.
type Processors struct {
	store         StreamStore
	zones         ZoneSource
	bulkThreshold int
}

// New creates the processors. A non-positive bulkThreshold selects
// DefaultBulkThreshold.
func New(st StreamStore, zones ZoneSource, bulkThreshold int) *Processors {
	if bulkThreshold <= 0 {
		bulkThreshold = DefaultBulkThreshold
	}
	return &Processors{store: st, zones: zones, bulkThreshold: bulkThreshold}
}

// Manifest returns the local target manifest.
func (p *Processors) Manifest() *manifest.Local {
	return manifest.MustNew(models.TargetLocal,
		manifest.Entry[manifest.Processor]{
			Version:      15,
			ErrorBackoff: time.Hour,
			Data:         p.ActiveStream,
		},
		manifest.Entry[manifest.Processor]{
			Version:      16,
			ErrorBackoff: 5 * time.Minute,
			Data:         p.RunningWatts,
		},
		manifest.Entry[manifest.Processor]{
			Version:      17,
			ErrorBackoff: 5 * time.Minute,
			Data:         p.ActivityStats,
		},
	)
}

// activitiesStreams loads the named streams of every activity. Activities
// without streams map to an empty set.
func (p *Processors) activitiesStreams(ctx context.Context, acts []*models.Activity, names ...string) (map[int64]models.StreamSet, error) {
	ids := make(map[int64]bool, len(acts))
	for _, a := range acts {
		ids[a.ID] = true
	}
	out := make(map[int64]models.StreamSet, len(ids))

	if len(ids) <= p.bulkThreshold {
		for id := range ids {
			set, err := p.store.ActivityStreams(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load streams for activity %d: %w", id, err)
			}
			out[id] = set
		}
		return out, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	athletes := make(map[int64]bool)
	for _, a := range acts {
		athletes[a.Athlete] = true
	}
	var keys []models.StreamKey
	for athlete := range athletes {
		all, err := p.store.StreamKeysForAthlete(ctx, athlete)
		if err != nil {
			return nil, fmt.Errorf("load stream keys for athlete %d: %w", athlete, err)
		}
		for _, k := range all {
			if ids[k.Activity] && wanted[k.Stream] {
				keys = append(keys, k)
			}
		}
	}
	recs, err := p.store.GetStreams(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}
	for id := range ids {
		out[id] = models.StreamSet{}
	}
	for _, r := range recs {
		out[r.Activity][r.Stream] = r.Data
	}
	return out, nil
}
