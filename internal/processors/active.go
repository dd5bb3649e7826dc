// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package processors

import (
	"context"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
)

// ActiveStream derives the "active" stream of each activity.
func (p *Processors) ActiveStream(ctx context.Context, b *manifest.Batch) error {
	streams, err := p.activitiesStreams(ctx, b.Activities, "time", "moving", "cadence", "watts", "distance")
	if err != nil {
		return err
	}

	recs := make([]models.StreamRecord, 0, len(b.Activities))
	for _, a := range b.Activities {
		rec, err := activeRecord(a, b.Athlete.ID, streams[a.ID])
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("activity_id", a.ID).Msg("Failed to create active stream")
			b.Fail(a, err)
			continue
		}
		recs = append(recs, rec)
	}
	return p.store.PutStreams(ctx, recs)
}

func activeRecord(a *models.Activity, athlete int64, s models.StreamSet) (models.StreamRecord, error) {
	var (
		in  analysis.ActiveInput
		err error
	)
	if in.Time, err = s.Floats("time"); err != nil {
		return models.StreamRecord{}, err
	}
	if in.Moving, err = s.Bools("moving"); err != nil {
		return models.StreamRecord{}, err
	}
	if in.Cadence, err = s.Floats("cadence"); err != nil {
		return models.StreamRecord{}, err
	}
	if in.Watts, err = s.Floats("watts"); err != nil {
		return models.StreamRecord{}, err
	}
	if in.Distance, err = s.Floats("distance"); err != nil {
		return models.StreamRecord{}, err
	}

	active, err := analysis.CreateActiveStream(in, a.Trainer)
	if err != nil {
		return models.StreamRecord{}, err
	}
	return models.NewStreamRecord(a.ID, athlete, StreamActive, active)
}
