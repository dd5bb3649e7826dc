// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/store"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *fakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// memStore records every save.
type memStore struct {
	mu      sync.Mutex
	states  map[string]*models.RateLimiterState
	saves   map[string][]int64 // newest call of each save
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		states: make(map[string]*models.RateLimiterState),
		saves:  make(map[string][]int64),
	}
}

func (m *memStore) LoadRateLimiterState(_ context.Context, label string) (*models.RateLimiterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	st, ok := m.states[label]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}

func (m *memStore) SaveRateLimiterState(_ context.Context, st *models.RateLimiterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[st.Label] = st
	if n := len(st.Calls); n > 0 {
		m.saves[st.Label] = append(m.saves[st.Label], st.Calls[n-1])
	}
	return nil
}

func (m *memStore) admissions(label string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int64(nil), m.saves[label]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// drive advances the clock whenever a waiter is sleeping until done reports true.
func drive(t *testing.T, clock *fakeClock, step time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out driving fake clock")
		}
		if clock.Waiters() > 0 {
			clock.Advance(step)
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// assertWindow checks that no rolling period contains more than limit calls.
func assertWindow(t *testing.T, calls []int64, period time.Duration, limit int) {
	t.Helper()
	for i := 0; i+limit < len(calls); i++ {
		if gap := time.Duration(calls[i+limit]-calls[i]) * time.Millisecond; gap < period {
			t.Fatalf("calls %d..%d span %v, limit %d per %v exceeded", i, i+limit, gap, limit, period)
		}
	}
}

func TestGroupConcurrentCallersRespectLimit(t *testing.T) {
	clock := newFakeClock()
	st := newMemStore()
	g, err := NewGroup("test", st, []Tier{{Label: "min", Period: 10 * time.Second, Limit: 3}}, WithClock(clock))
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	const callers = 12
	var finished atomic.Int32
	for i := 0; i < callers; i++ {
		go func() {
			if err := g.Wait(context.Background()); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
			finished.Add(1)
		}()
	}
	drive(t, clock, time.Second, func() bool { return finished.Load() == callers })

	calls := st.admissions("min")
	if len(calls) != callers {
		t.Fatalf("admissions = %d, want %d", len(calls), callers)
	}
	assertWindow(t, calls, 10*time.Second, 3)
}

func TestGroupANDsTiers(t *testing.T) {
	clock := newFakeClock()
	st := newMemStore()
	tiers := []Tier{
		{Label: "short", Period: 10 * time.Second, Limit: 2},
		{Label: "long", Period: 100 * time.Second, Limit: 5},
	}
	g, err := NewGroup("and", st, tiers, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	const callers = 8
	var finished atomic.Int32
	for i := 0; i < callers; i++ {
		go func() {
			_ = g.Wait(context.Background())
			finished.Add(1)
		}()
	}
	drive(t, clock, time.Second, func() bool { return finished.Load() == callers })

	calls := st.admissions("short")
	assertWindow(t, calls, 10*time.Second, 2)
	assertWindow(t, calls, 100*time.Second, 5)
}

func TestSpreadEnforcesGap(t *testing.T) {
	clock := newFakeClock()
	st := newMemStore()
	g, err := NewGroup("spread", st, []Tier{{Label: "s", Period: 60 * time.Second, Limit: 6, Spread: true}}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	var finished atomic.Int32
	go func() {
		for i := 0; i < 4; i++ {
			_ = g.Wait(context.Background())
		}
		finished.Store(1)
	}()
	drive(t, clock, time.Second, func() bool { return finished.Load() == 1 })

	calls := st.admissions("s")
	for i := 1; i < len(calls); i++ {
		if gap := time.Duration(calls[i]-calls[i-1]) * time.Millisecond; gap < 10*time.Second {
			t.Errorf("gap %d = %v, want >= 10s", i, gap)
		}
	}
}

func TestWaitCancellation(t *testing.T) {
	clock := newFakeClock()
	g, err := NewGroup("cancel", nil, []Tier{{Label: "x", Period: time.Hour, Limit: 1}}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.Wait(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !g.Sleeping() {
		if time.Now().After(deadline) {
			t.Fatal("waiter never started sleeping")
		}
		time.Sleep(time.Millisecond)
	}
	if want := clock.Now().Add(time.Hour); !g.Resumes().Equal(want) {
		t.Errorf("Resumes() = %v, want %v", g.Resumes(), want)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not observe cancellation")
	}
	if g.Sleeping() || !g.Resumes().IsZero() {
		t.Error("cancelled waiter left the group sleeping")
	}
	if s := g.Status(context.Background()); s[0].Used != 1 {
		t.Errorf("cancelled wait recorded a call: used = %d", s[0].Used)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	clock := newFakeClock()
	st := newMemStore()
	tiers := []Tier{{Label: "day", Period: 24 * time.Hour, Limit: 2}}

	g1, _ := NewGroup("a", st, tiers, WithClock(clock))
	for i := 0; i < 2; i++ {
		if err := g1.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	g2, _ := NewGroup("b", st, tiers, WithClock(clock))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g2.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("restarted group Wait() error = %v, want budget exhausted", err)
	}
}

func TestCorruptStateFailsOpenOnce(t *testing.T) {
	clock := newFakeClock()
	st := newMemStore()
	st.loadErr = errors.New("corrupt")
	g, _ := NewGroup("c", st, []Tier{{Label: "x", Period: time.Hour, Limit: 1}}, WithClock(clock))

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() should fail open, got %v", err)
	}

	// Memory is authoritative from here on, even if saves fail.
	st.saveErr = errors.New("disk full")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait() error = %v, want limit enforced", err)
	}
}

func TestIncrement(t *testing.T) {
	clock := newFakeClock()
	g, _ := NewGroup("inc", nil, []Tier{{Label: "x", Period: time.Minute, Limit: 2}}, WithClock(clock))

	g.Increment(context.Background())
	g.Increment(context.Background())
	if s := g.Status(context.Background()); s[0].Used != 2 {
		t.Fatalf("Used = %d, want 2", s[0].Used)
	}

	clock.Advance(time.Minute)
	if s := g.Status(context.Background()); s[0].Used != 0 {
		t.Errorf("Used after window = %d, want 0", s[0].Used)
	}
}

func TestNewGroupValidation(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
	}{
		{"empty", nil},
		{"no label", []Tier{{Period: time.Second, Limit: 1}}},
		{"zero limit", []Tier{{Label: "a", Period: time.Second}}},
		{"duplicate", []Tier{
			{Label: "a", Period: time.Second, Limit: 1},
			{Label: "a", Period: time.Minute, Limit: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGroup("x", nil, tt.tiers); err == nil {
				t.Error("NewGroup() expected error")
			}
		})
	}
}
