// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package analysis

import (
	"errors"
	"math"
)

const (
	// MaxPowerGap is the largest gap in seconds treated as continuous
	// riding. Longer gaps are filled with zero watts.
	MaxPowerGap = 15

	npWindow = 30
	xpWindow = 25
)

// ErrMismatchedStreams is returned when parallel streams differ in length.
var ErrMismatchedStreams = errors.New("streams have different lengths")

// Corrected is a power stream resampled to one sample per second.
type Corrected struct {
	Watts []float64
}

// CorrectedPower resamples watts to 1Hz. It returns nil when fewer than two
// samples are available.
func CorrectedPower(time, watts []float64) (*Corrected, error) {
	if len(time) != len(watts) {
		return nil, ErrMismatchedStreams
	}
	if len(time) < 2 {
		return nil, nil
	}

	out := make([]float64, 0, int(time[len(time)-1]-time[0])+1)
	out = append(out, watts[0])
	for i := 1; i < len(time); i++ {
		gap := int(math.Round(time[i] - time[i-1]))
		if gap <= 0 {
			continue
		}
		fill := watts[i]
		if gap > MaxPowerGap {
			fill = 0
		}
		for j := 1; j < gap; j++ {
			out = append(out, fill)
		}
		out = append(out, watts[i])
	}
	return &Corrected{Watts: out}, nil
}

// KJ returns the total work in kilojoules.
func (c *Corrected) KJ() float64 {
	var j float64
	for _, w := range c.Watts {
		j += w
	}
	return j / 1000
}

// NP returns normalized power, or 0 when the stream is shorter than the
// averaging window.
func (c *Corrected) NP() float64 {
	if len(c.Watts) < npWindow {
		return 0
	}
	var sum, total float64
	n := 0
	for i, w := range c.Watts {
		sum += w
		if i >= npWindow {
			sum -= c.Watts[i-npWindow]
		}
		if i >= npWindow-1 {
			total += math.Pow(sum/npWindow, 4)
			n++
		}
	}
	return math.Pow(total/float64(n), 0.25)
}

// XP returns xPower, or 0 when the stream is shorter than the averaging
// window.
func (c *Corrected) XP() float64 {
	if len(c.Watts) < xpWindow {
		return 0
	}
	alpha := 1 - math.Exp(-1.0/xpWindow)
	var avg, total float64
	for _, w := range c.Watts {
		avg += alpha * (w - avg)
		total += math.Pow(avg, 4)
	}
	return math.Pow(total/float64(len(c.Watts)), 0.25)
}

// TSS returns the training stress score for riding at power for duration
// seconds against ftp.
func TSS(power, duration, ftp float64) float64 {
	if ftp <= 0 {
		return 0
	}
	intensity := power / ftp
	return duration * power * intensity / (ftp * 3600) * 100
}

// ActiveTime sums the intervals ending at active samples. A nil active
// stream counts every interval.
func ActiveTime(time []float64, active []bool) float64 {
	var t float64
	for i := 1; i < len(time); i++ {
		if active == nil || (i < len(active) && active[i]) {
			t += time[i] - time[i-1]
		}
	}
	return t
}
