// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package processors

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil // Disable logging for tests
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open BadgerDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

type fakeZones struct {
	zones *models.HRZones
	err   error
	calls atomic.Int32
}

func (f *fakeZones) FetchHRZones(ctx context.Context, activityID int64) (*models.HRZones, error) {
	f.calls.Add(1)
	return f.zones, f.err
}

func putStream(t *testing.T, st *store.Store, activity, athlete int64, name string, v any) {
	t.Helper()
	rec, err := models.NewStreamRecord(activity, athlete, name, v)
	if err != nil {
		t.Fatalf("NewStreamRecord() error = %v", err)
	}
	if err := st.PutStreams(context.Background(), []models.StreamRecord{rec}); err != nil {
		t.Fatalf("PutStreams() error = %v", err)
	}
}

func newBatch(athlete *models.Athlete, version int, acts ...*models.Activity) *manifest.Batch {
	return &manifest.Batch{
		Athlete:    athlete,
		Activities: acts,
		Version:    version,
		Now:        time.Now(),
		SaveAthlete: func(ctx context.Context, fn func(*models.Athlete)) error {
			fn(athlete)
			return nil
		},
	}
}

func seconds(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestManifest(t *testing.T) {
	m := New(nil, nil, 0).Manifest()
	if m.Target() != models.TargetLocal {
		t.Errorf("Target() = %q", m.Target())
	}
	if m.Latest() != 17 {
		t.Errorf("Latest() = %d, want 17", m.Latest())
	}
	want := []struct {
		version int
		backoff time.Duration
	}{{15, time.Hour}, {16, 5 * time.Minute}, {17, 5 * time.Minute}}
	for i, e := range m.Entries() {
		if e.Version != want[i].version || e.ErrorBackoff != want[i].backoff || e.Data == nil {
			t.Errorf("entry %d = v%d/%s", i, e.Version, e.ErrorBackoff)
		}
	}
}

func TestActiveStream(t *testing.T) {
	for _, threshold := range []int{50, 1} {
		t.Run("threshold", func(t *testing.T) {
			ctx := context.Background()
			st := newTestStore(t)
			athlete := &models.Athlete{ID: 7, Name: "A", Gender: "male"}
			ok := &models.Activity{ID: 1, Athlete: 7}
			missing := &models.Activity{ID: 2, Athlete: 7}
			putStream(t, st, 1, 7, "time", []float64{0, 1, 2})
			putStream(t, st, 1, 7, "watts", []float64{0, 100, 0})
			putStream(t, st, 1, 7, "moving", []bool{false, true, true})

			p := New(st, nil, threshold)
			b := newBatch(athlete, 15, ok, missing)
			if err := p.ActiveStream(ctx, b); err != nil {
				t.Fatalf("ActiveStream() error = %v", err)
			}

			set, err := st.ActivityStreams(ctx, 1)
			if err != nil {
				t.Fatalf("ActivityStreams() error = %v", err)
			}
			active, err := set.Bools(StreamActive)
			if err != nil {
				t.Fatalf("decode active: %v", err)
			}
			if len(active) != 3 || active[0] || !active[1] || !active[2] {
				t.Errorf("active = %v, want [false true true]", active)
			}
			if ok.HasSyncError(models.TargetLocal) {
				t.Errorf("activity 1 has error %+v", ok.State(models.TargetLocal).Error)
			}

			s := missing.State(models.TargetLocal)
			if s == nil || s.Error == nil || s.Error.Version != 15 {
				t.Errorf("activity without time stream state = %+v, want error at v15", s)
			}
		})
	}
}

func TestRunningWatts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	athlete := &models.Athlete{
		ID: 7, Name: "A", Gender: "female",
		WeightHistory: []models.ValueAt{{TS: 0, Value: 70}},
	}
	run := &models.Activity{ID: 1, Athlete: 7, BaseType: models.BaseTypeRun, TS: 1000}
	ride := &models.Activity{ID: 2, Athlete: 7, BaseType: models.BaseTypeRide}
	noGap := &models.Activity{ID: 3, Athlete: 7, BaseType: models.BaseTypeRun}
	putStream(t, st, 1, 7, "time", []float64{0, 2, 4})
	putStream(t, st, 1, 7, "grade_adjusted_distance", []float64{0, 10, 20})
	putStream(t, st, 2, 7, "time", []float64{0, 2, 4})
	putStream(t, st, 2, 7, "grade_adjusted_distance", []float64{0, 10, 20})

	p := New(st, nil, 0)
	if err := p.RunningWatts(ctx, newBatch(athlete, 16, run, ride, noGap)); err != nil {
		t.Fatalf("RunningWatts() error = %v", err)
	}

	set, _ := st.ActivityStreams(ctx, 1)
	watts, err := set.Floats(StreamWattsCalc)
	if err != nil || len(watts) != 3 {
		t.Fatalf("watts_calc = %v, %v", watts, err)
	}
	if watts[0] != 0 || math.Abs(watts[1]-380.625) > 1e-9 {
		t.Errorf("watts_calc = %v, want [0 380.625 380.625]", watts)
	}

	rideSet, _ := st.ActivityStreams(ctx, 2)
	if rideSet.Has(StreamWattsCalc) {
		t.Error("ride got a watts_calc stream")
	}
	if noGap.HasSyncError(models.TargetLocal) {
		t.Error("run without grade adjusted distance should be skipped, not failed")
	}

	t.Run("no weight", func(t *testing.T) {
		light := &models.Athlete{ID: 7, Name: "A", Gender: "female"}
		run := &models.Activity{ID: 1, Athlete: 7, BaseType: models.BaseTypeRun}
		if err := p.RunningWatts(ctx, newBatch(light, 16, run)); err != nil {
			t.Fatalf("RunningWatts() error = %v", err)
		}
		s := run.State(models.TargetLocal)
		if s == nil || s.Error == nil || s.Error.Message != ErrNoWeight.Error() {
			t.Errorf("state = %+v, want no weight error", s)
		}
	})
}

func TestActivityStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	athlete := &models.Athlete{
		ID: 7, Name: "A", Gender: "male",
		FTPHistory: []models.ValueAt{{TS: 0, Value: 200}},
	}
	ride := &models.Activity{ID: 1, Athlete: 7, BaseType: models.BaseTypeRide}
	putStream(t, st, 1, 7, "time", seconds(3601))
	putStream(t, st, 1, 7, "watts", constant(3601, 200))
	putStream(t, st, 1, 7, "heartrate", constant(3601, 150))

	zones := &fakeZones{zones: &models.HRZones{Z1: 120, Z2: 140, Z3: 160, Z4: 170}}
	p := New(st, zones, 0)

	if err := p.ActivityStats(ctx, newBatch(athlete, 17, ride)); err != nil {
		t.Fatalf("ActivityStats() error = %v", err)
	}
	if !athlete.HRZonesChecked || athlete.HRZones == nil {
		t.Fatalf("athlete zones not saved: %+v", athlete)
	}

	s := ride.Stats
	if s == nil {
		t.Fatal("stats not set")
	}
	if math.Abs(s.NP-200) > 1e-6 || math.Abs(s.TSS-100) > 1e-6 || math.Abs(s.Intensity-1) > 1e-6 {
		t.Errorf("stats = %+v, want np 200, tss 100, intensity 1", s)
	}
	if s.TTSS <= 0 {
		t.Errorf("TTSS = %v, want > 0", s.TTSS)
	}
	if s.KJ <= 0 || s.Power <= 0 {
		t.Errorf("KJ/Power = %v/%v", s.KJ, s.Power)
	}

	// Zones are only fetched once.
	if err := p.ActivityStats(ctx, newBatch(athlete, 17, ride)); err != nil {
		t.Fatalf("second ActivityStats() error = %v", err)
	}
	if n := zones.calls.Load(); n != 1 {
		t.Errorf("zone fetches = %d, want 1", n)
	}
}

func TestActivityStatsWithoutZones(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	athlete := &models.Athlete{ID: 7, Name: "A", Gender: "male"}
	ride := &models.Activity{ID: 1, Athlete: 7, BaseType: models.BaseTypeRide}
	putStream(t, st, 1, 7, "time", seconds(10))
	putStream(t, st, 1, 7, "heartrate", constant(10, 150))

	zones := &fakeZones{}
	p := New(st, zones, 0)
	if err := p.ActivityStats(ctx, newBatch(athlete, 17, ride)); err != nil {
		t.Fatalf("ActivityStats() error = %v", err)
	}
	if !athlete.HRZonesChecked || athlete.HRZones != nil {
		t.Errorf("athlete = %+v, want checked with no zones", athlete)
	}
	if ride.Stats == nil || ride.Stats.TTSS != 0 || ride.Stats.TSS != 0 {
		t.Errorf("stats = %+v, want empty", ride.Stats)
	}
}

func TestActivityStatsZoneError(t *testing.T) {
	st := newTestStore(t)
	athlete := &models.Athlete{ID: 7, Name: "A", Gender: "male"}
	ride := &models.Activity{ID: 1, Athlete: 7}
	p := New(st, &fakeZones{err: errors.New("remote down")}, 0)

	if err := p.ActivityStats(context.Background(), newBatch(athlete, 17, ride)); err == nil {
		t.Fatal("expected error")
	}
	if athlete.HRZonesChecked {
		t.Error("zones marked checked after failed fetch")
	}
}
