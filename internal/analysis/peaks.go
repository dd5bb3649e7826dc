// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package analysis

import "sort"

// PeaksInput is one activity's stream for FindPeaks.
type PeaksInput struct {
	Activity int64     `json:"activity"`
	Time     []float64 `json:"time"`
	Values   []float64 `json:"values"`
}

// Peak is the best rolling average over Period seconds.
type Peak struct {
	Activity int64   `json:"activity"`
	Period   int     `json:"period"`
	Value    float64 `json:"value"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// FindPeaks returns, for each period, the highest time weighted rolling
// average across all inputs, ordered by period. Periods no input spans are
// omitted.
func FindPeaks(inputs []PeaksInput, periods []int) []Peak {
	best := make(map[int]Peak, len(periods))
	for _, in := range inputs {
		if len(in.Time) != len(in.Values) || len(in.Time) < 2 {
			continue
		}
		for _, p := range periods {
			pk, ok := rollingPeak(in, p)
			if !ok {
				continue
			}
			if cur, seen := best[p]; !seen || pk.Value > cur.Value {
				best[p] = pk
			}
		}
	}

	out := make([]Peak, 0, len(best))
	for _, p := range periods {
		if pk, ok := best[p]; ok {
			out = append(out, pk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// rollingPeak slides a window of at least period seconds over the stream.
// Each sample's value covers the interval ending at it.
func rollingPeak(in PeaksInput, period int) (Peak, bool) {
	var (
		sum   float64
		start = 0
		found bool
		best  Peak
	)
	p := float64(period)
	for i := 1; i < len(in.Time); i++ {
		sum += in.Values[i] * (in.Time[i] - in.Time[i-1])
		for start+1 < i && in.Time[i]-in.Time[start+1] >= p {
			sum -= in.Values[start+1] * (in.Time[start+1] - in.Time[start])
			start++
		}
		elapsed := in.Time[i] - in.Time[start]
		if elapsed < p {
			continue
		}
		if avg := sum / elapsed; !found || avg > best.Value {
			found = true
			best = Peak{Activity: in.Activity, Period: period, Value: avg, Start: in.Time[start], End: in.Time[i]}
		}
	}
	return best, found
}

// TSSInput is one activity's power data for BulkTSS.
type TSSInput struct {
	Activity int64     `json:"activity"`
	Time     []float64 `json:"time"`
	Watts    []float64 `json:"watts"`
	Active   []bool    `json:"active,omitempty"`
	FTP      float64   `json:"ftp"`
}

// TSSResult is the computed score for one activity.
type TSSResult struct {
	Activity int64   `json:"activity"`
	TSS      float64 `json:"tss"`
}

// BulkTSS scores each input from its normalized power (falling back to the
// average power) over active time. Inputs without usable power or FTP
// score zero.
func BulkTSS(inputs []TSSInput) []TSSResult {
	out := make([]TSSResult, len(inputs))
	for i, in := range inputs {
		out[i].Activity = in.Activity
		if in.FTP <= 0 {
			continue
		}
		c, err := CorrectedPower(in.Time, in.Watts)
		if err != nil || c == nil {
			continue
		}
		activeTime := ActiveTime(in.Time, in.Active)
		if activeTime <= 0 {
			continue
		}
		power := c.NP()
		if power == 0 {
			power = c.KJ() * 1000 / activeTime
		}
		out[i].TSS = TSS(power, activeTime, in.FTP)
	}
	return out
}
