// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// StreamRecord is one named time series of an activity.
type StreamRecord struct {
	Activity int64           `json:"activity"`
	Athlete  int64           `json:"athlete"`
	Stream   string          `json:"stream"`
	Data     json.RawMessage `json:"data"`
}

// StreamKey identifies a stream record.
type StreamKey struct {
	Activity int64
	Stream   string
}

// StreamSet maps stream names to encoded series for one activity.
type StreamSet map[string]json.RawMessage

// Has reports whether the named stream is present and not null.
func (s StreamSet) Has(name string) bool {
	raw, ok := s[name]
	return ok && len(raw) > 0 && string(raw) != "null"
}

// Floats decodes a numeric stream. Missing streams return (nil, nil).
// Null samples decode as 0.
func (s StreamSet) Floats(name string) ([]float64, error) {
	if !s.Has(name) {
		return nil, nil
	}
	var raw []*float64
	if err := json.Unmarshal(s[name], &raw); err != nil {
		return nil, fmt.Errorf("decode stream %s: %w", name, err)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v != nil {
			out[i] = *v
		}
	}
	return out, nil
}

// Bools decodes a boolean stream. Missing streams return (nil, nil).
func (s StreamSet) Bools(name string) ([]bool, error) {
	if !s.Has(name) {
		return nil, nil
	}
	var out []bool
	if err := json.Unmarshal(s[name], &out); err != nil {
		return nil, fmt.Errorf("decode stream %s: %w", name, err)
	}
	return out, nil
}

// NewStreamRecord encodes v as the data of a stream record.
func NewStreamRecord(activity, athlete int64, stream string, v any) (StreamRecord, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return StreamRecord{}, fmt.Errorf("encode stream %s: %w", stream, err)
	}
	return StreamRecord{Activity: activity, Athlete: athlete, Stream: stream, Data: data}, nil
}
