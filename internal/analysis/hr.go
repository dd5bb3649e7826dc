// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package analysis

import (
	"errors"
	"math"

	"github.com/tomtom215/athletesync/internal/models"
)

// ErrInvalidHeartRate is returned when the heart rate bounds are unusable.
var ErrInvalidHeartRate = errors.New("invalid heart rate range")

// LTHR estimates lactate threshold heart rate as the midpoint of the tempo
// and threshold zone ceilings.
func LTHR(z *models.HRZones) float64 {
	return (z.Z4 + z.Z3) / 2
}

// EstimateMaxHR extrapolates one average zone width above the threshold
// zone ceiling.
func EstimateMaxHR(z *models.HRZones) float64 {
	width := (z.Z4 - z.Z1) / 3
	return math.Round(z.Z4 + width)
}

// EstimateRestingHR guesses resting heart rate from FTP, clamped to a
// plausible range.
func EstimateRestingHR(ftp float64) float64 {
	return math.Max(40, math.Min(70, 90-ftp/10))
}

// trimpK is the Banister weighting exponent.
func trimpK(gender string) float64 {
	if gender == "female" {
		return 1.67
	}
	return 1.92
}

func trimp(minutes, hrr, k float64) float64 {
	return minutes * hrr * 0.64 * math.Exp(k*hrr)
}

// TTSS returns a heart rate based TSS: the activity's TRIMP relative to one
// hour at ltHR. Only active intervals contribute.
func TTSS(hr, time []float64, active []bool, ltHR, restingHR, maxHR float64, gender string) (float64, error) {
	if len(hr) != len(time) {
		return 0, ErrMismatchedStreams
	}
	if maxHR <= restingHR || ltHR <= restingHR {
		return 0, ErrInvalidHeartRate
	}
	k := trimpK(gender)
	span := maxHR - restingHR

	var total float64
	for i := 1; i < len(time); i++ {
		if active != nil && (i >= len(active) || !active[i]) {
			continue
		}
		hrr := math.Max(0, math.Min(1, (hr[i]-restingHR)/span))
		total += trimp((time[i]-time[i-1])/60, hrr, k)
	}
	hour := trimp(60, (ltHR-restingHR)/span, k)
	return total / hour * 100, nil
}
