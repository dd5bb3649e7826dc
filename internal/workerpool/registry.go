// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package workerpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/athletesync/internal/analysis"
)

// Registered function names.
const (
	CallFindPeaks = "findPeaks"
	CallBulkTSS   = "bulkTSS"
)

var (
	// ErrUnknownCall is wrapped by CallError for unregistered names.
	ErrUnknownCall = errors.New("unknown call")

	// ErrBadArguments is wrapped by CallError when arguments have the
	// wrong count or type.
	ErrBadArguments = errors.New("bad arguments")
)

// Func is a function a worker can run.
type Func func(ctx context.Context, args ...any) (any, error)

// Registry maps call names to functions.
type Registry map[string]Func

// DefaultRegistry returns the analysis functions.
//
//	findPeaks(inputs []analysis.PeaksInput, periods []int) []analysis.Peak
//	bulkTSS(inputs []analysis.TSSInput) []analysis.TSSResult
func DefaultRegistry() Registry {
	return Registry{
		CallFindPeaks: findPeaks,
		CallBulkTSS:   bulkTSS,
	}
}

func findPeaks(ctx context.Context, args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: want 2, got %d", ErrBadArguments, len(args))
	}
	inputs, ok := args[0].([]analysis.PeaksInput)
	if !ok {
		return nil, fmt.Errorf("%w: inputs are %T", ErrBadArguments, args[0])
	}
	periods, ok := args[1].([]int)
	if !ok {
		return nil, fmt.Errorf("%w: periods are %T", ErrBadArguments, args[1])
	}
	return analysis.FindPeaks(inputs, periods), nil
}

func bulkTSS(ctx context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrBadArguments, len(args))
	}
	inputs, ok := args[0].([]analysis.TSSInput)
	if !ok {
		return nil, fmt.Errorf("%w: inputs are %T", ErrBadArguments, args[0])
	}
	return analysis.BulkTSS(inputs), nil
}
