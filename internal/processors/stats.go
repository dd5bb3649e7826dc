// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package processors

import (
	"context"
	"fmt"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
)

// defaultRestingHR is used when FTP is unknown.
const defaultRestingHR = 60

// ActivityStats computes power and heart rate statistics. Heart rate zones
// are fetched once per athlete and cached on the athlete record, including
// a negative result.
func (p *Processors) ActivityStats(ctx context.Context, b *manifest.Batch) error {
	if len(b.Activities) == 0 {
		return nil
	}
	streams, err := p.activitiesStreams(ctx, b.Activities, "time", "heartrate", "active", "watts", "watts_calc")
	if err != nil {
		return err
	}

	if !b.Athlete.HRZonesChecked {
		logging.Ctx(ctx).Info().Int64("athlete_id", b.Athlete.ID).Msg("Getting HR zones")
		zones, err := p.zones.FetchHRZones(ctx, b.Activities[0].ID)
		if err != nil {
			return fmt.Errorf("fetch hr zones: %w", err)
		}
		if err := b.SaveAthlete(ctx, func(a *models.Athlete) {
			a.HRZones = zones
			a.HRZonesChecked = true
		}); err != nil {
			return err
		}
	}

	zones := b.Athlete.HRZones
	var ltHR, maxHR float64
	if zones != nil {
		ltHR = analysis.LTHR(zones)
		maxHR = analysis.EstimateMaxHR(zones)
	}

	for _, a := range b.Activities {
		stats, err := activityStats(a, b.Athlete, streams[a.ID], ltHR, maxHR)
		if err != nil {
			b.Fail(a, err)
			continue
		}
		if stats != nil {
			a.Stats = stats
		}
	}
	return nil
}

// activityStats returns nil stats when the power stream is too short to
// correct.
func activityStats(a *models.Activity, athlete *models.Athlete, s models.StreamSet, ltHR, maxHR float64) (*models.ActivityStats, error) {
	ftp := athlete.FTPAt(a.TS)
	stats := &models.ActivityStats{}

	time, err := s.Floats("time")
	if err != nil {
		return nil, err
	}
	active, err := s.Bools("active")
	if err != nil {
		return nil, err
	}

	if s.Has("heartrate") && athlete.HRZones != nil {
		hr, err := s.Floats("heartrate")
		if err != nil {
			return nil, err
		}
		restingHR := float64(defaultRestingHR)
		if ftp > 0 {
			restingHR = analysis.EstimateRestingHR(ftp)
		}
		stats.TTSS, err = analysis.TTSS(hr, time, active, ltHR, restingHR, maxHR, athlete.Gender)
		if err != nil {
			return nil, err
		}
	}

	wattsName := "watts"
	if !s.Has(wattsName) {
		wattsName = StreamWattsCalc
	}
	if ftp <= 0 || !s.Has(wattsName) {
		return stats, nil
	}

	watts, err := s.Floats(wattsName)
	if err != nil {
		return nil, err
	}
	corrected, err := analysis.CorrectedPower(time, watts)
	if err != nil {
		return nil, err
	}
	if corrected == nil {
		return nil, nil
	}
	activeTime := analysis.ActiveTime(time, active)
	if activeTime <= 0 {
		return stats, nil
	}

	stats.KJ = corrected.KJ()
	stats.Power = stats.KJ * 1000 / activeTime
	if wattsName == "watts" || a.BaseType == models.BaseTypeRun {
		stats.NP = corrected.NP()
		stats.XP = corrected.XP()
	}
	effective := stats.Power
	if stats.NP > 0 {
		effective = stats.NP
	}
	stats.TSS = analysis.TSS(effective, activeTime, ftp)
	stats.Intensity = effective / ftp
	return stats, nil
}
