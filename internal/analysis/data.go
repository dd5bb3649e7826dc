// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package analysis

import "errors"

// ErrNoTimeStream is returned when an activity has no time stream.
var ErrNoTimeStream = errors.New("no time stream")

// ActiveInput holds the streams used to decide whether each sample was
// active. Missing streams are nil.
type ActiveInput struct {
	Time     []float64
	Moving   []bool
	Cadence  []float64
	Watts    []float64
	Distance []float64
}

// CreateActiveStream marks samples with pedaling, power or movement as
// active. Trainer rides ignore distance and the moving flag since neither
// reflects effort indoors.
func CreateActiveStream(in ActiveInput, isTrainer bool) ([]bool, error) {
	if len(in.Time) == 0 {
		return nil, ErrNoTimeStream
	}
	at := func(s []float64, i int) float64 {
		if i < len(s) {
			return s[i]
		}
		return 0
	}

	active := make([]bool, len(in.Time))
	for i := range in.Time {
		switch {
		case at(in.Watts, i) > 0, at(in.Cadence, i) > 0:
			active[i] = true
		case isTrainer:
		case in.Moving != nil:
			active[i] = i < len(in.Moving) && in.Moving[i]
		case in.Distance != nil && i > 0:
			active[i] = at(in.Distance, i) > at(in.Distance, i-1)
		}
	}
	return active, nil
}

const (
	// runningCost is the metabolic cost of running in joules per kg per
	// meter on flat ground.
	runningCost = 4.35
	// runningEfficiency converts metabolic to mechanical work.
	runningEfficiency = 0.25
)

// Work returns the mechanical work in kilojoules of running dist meters
// (grade adjusted) at weight kg.
func Work(weight, dist float64) float64 {
	return weight * dist * runningCost * runningEfficiency / 1000
}
