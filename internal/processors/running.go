// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package processors

import (
	"context"
	"errors"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
)

// ErrNoWeight fails runs whose athlete has no weight history yet.
var ErrNoWeight = errors.New("no weight for athlete, try later")

// RunningWatts estimates a power stream for runs from grade adjusted
// distance and the athlete's weight at the time of the run.
func (p *Processors) RunningWatts(ctx context.Context, b *manifest.Batch) error {
	var runs []*models.Activity
	for _, a := range b.Activities {
		if a.BaseType == models.BaseTypeRun {
			runs = append(runs, a)
		}
	}
	if len(runs) == 0 {
		return nil
	}
	streams, err := p.activitiesStreams(ctx, runs, "time", "grade_adjusted_distance")
	if err != nil {
		return err
	}

	var recs []models.StreamRecord
	for _, a := range runs {
		s := streams[a.ID]
		if !s.Has("grade_adjusted_distance") {
			continue
		}
		weight := b.Athlete.WeightAt(a.TS)
		if weight == 0 {
			b.Fail(a, ErrNoWeight)
			continue
		}
		rec, err := wattsRecord(a, b.Athlete.ID, s, weight)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("activity_id", a.ID).Msg("Failed to create running watts stream")
			b.Fail(a, err)
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil
	}
	return p.store.PutStreams(ctx, recs)
}

func wattsRecord(a *models.Activity, athlete int64, s models.StreamSet, weight float64) (models.StreamRecord, error) {
	gap, err := s.Floats("grade_adjusted_distance")
	if err != nil {
		return models.StreamRecord{}, err
	}
	time, err := s.Floats("time")
	if err != nil {
		return models.StreamRecord{}, err
	}
	if len(time) != len(gap) {
		return models.StreamRecord{}, analysis.ErrMismatchedStreams
	}

	watts := make([]float64, len(gap))
	for i := 1; i < len(gap); i++ {
		dt := time[i] - time[i-1]
		if dt <= 0 {
			continue
		}
		watts[i] = analysis.Work(weight, gap[i]-gap[i-1]) * 1000 / dt
	}
	return models.NewStreamRecord(a.ID, athlete, StreamWattsCalc, watts)
}
