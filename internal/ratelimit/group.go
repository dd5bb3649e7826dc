// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/store"
)

// StateStore persists limiter history.
type StateStore interface {
	LoadRateLimiterState(ctx context.Context, label string) (*models.RateLimiterState, error)
	SaveRateLimiterState(ctx context.Context, st *models.RateLimiterState) error
}

// Option configures a Group.
type Option func(*Group)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(g *Group) { g.clock = c }
}

// Group ANDs several limiters into one wait gate.
type Group struct {
	name     string
	store    StateStore
	clock    Clock
	limiters []*Limiter

	// turn admits one waiter at a time. Blocked senders are queued by the
	// runtime in arrival order.
	turn chan struct{}

	mu       sync.Mutex
	loaded   bool
	sleeping bool
	resumes  time.Time
}

// NewGroup builds a group from tiers. Labels must be unique.
func NewGroup(name string, st StateStore, tiers []Tier, opts ...Option) (*Group, error) {
	if len(tiers) == 0 {
		return nil, errors.New("rate limiter group needs at least one tier")
	}
	seen := make(map[string]bool, len(tiers))
	g := &Group{
		name:  name,
		store: st,
		clock: realClock{},
		turn:  make(chan struct{}, 1),
	}
	for _, t := range tiers {
		if t.Label == "" || t.Limit <= 0 || t.Period <= 0 {
			return nil, fmt.Errorf("invalid rate limiter tier %+v", t)
		}
		if seen[t.Label] {
			return nil, fmt.Errorf("duplicate rate limiter label %q", t.Label)
		}
		seen[t.Label] = true
		g.limiters = append(g.limiters, newLimiter(t))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// loadLocked restores persisted history on first use. Missing or unreadable
// state starts the tier with no history. Caller holds g.mu.
func (g *Group) loadLocked(ctx context.Context) {
	if g.loaded || g.store == nil {
		g.loaded = true
		return
	}
	for _, l := range g.limiters {
		st, err := g.store.LoadRateLimiterState(ctx, l.Label)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			logging.Warn().Err(err).Str("label", l.Label).Msg("Discarding unreadable rate limiter state")
			continue
		}
		l.restore(st)
	}
	g.loaded = true
}

func (g *Group) persist(ctx context.Context, states []*models.RateLimiterState) {
	if g.store == nil {
		return
	}
	for _, st := range states {
		metrics.RateLimiterUsage.WithLabelValues(st.Label).Set(float64(len(st.Calls)))
		if err := g.store.SaveRateLimiterState(ctx, st); err != nil {
			logging.Error().Err(err).Str("label", st.Label).Msg("Failed to save rate limiter state")
		}
	}
}

func (g *Group) recordLocked(now time.Time) []*models.RateLimiterState {
	states := make([]*models.RateLimiterState, len(g.limiters))
	for i, l := range g.limiters {
		l.record(now)
		states[i] = l.state()
	}
	return states
}

// Wait blocks until every tier admits a call, then records the call. It
// returns ctx.Err() if ctx ends first, in which case nothing is recorded.
func (g *Group) Wait(ctx context.Context) error {
	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.turn }()

	slept := false
	for {
		g.mu.Lock()
		g.loadLocked(ctx)
		now := g.clock.Now()
		next := now
		for _, l := range g.limiters {
			if t := l.nextAllowed(now); t.After(next) {
				next = t
			}
		}
		if !next.After(now) {
			states := g.recordLocked(now)
			g.sleeping = false
			g.resumes = time.Time{}
			g.mu.Unlock()
			g.persist(ctx, states)
			return nil
		}
		g.sleeping = true
		g.resumes = next
		g.mu.Unlock()

		delay := next.Sub(now)
		if !slept {
			metrics.RateLimiterWaits.WithLabelValues(g.name).Inc()
			slept = true
		}
		metrics.RateLimiterSleepSeconds.WithLabelValues(g.name).Add(delay.Seconds())
		logging.Debug().Str("group", g.name).Dur("delay", delay).Msg("Rate limiter sleeping")

		select {
		case <-g.clock.After(delay):
		case <-ctx.Done():
			g.mu.Lock()
			g.sleeping = false
			g.resumes = time.Time{}
			g.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Increment records a call made outside of Wait.
func (g *Group) Increment(ctx context.Context) {
	g.mu.Lock()
	g.loadLocked(ctx)
	states := g.recordLocked(g.clock.Now())
	g.mu.Unlock()
	g.persist(ctx, states)
}

// Sleeping reports whether a waiter is currently blocked on the budget.
func (g *Group) Sleeping() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sleeping
}

// Resumes returns when the blocked waiter will be released, or the zero
// time when nothing is sleeping.
func (g *Group) Resumes() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumes
}

// TierStatus is a point-in-time view of one tier.
type TierStatus struct {
	Label  string        `json:"label"`
	Period time.Duration `json:"period"`
	Limit  int           `json:"limit"`
	Used   int           `json:"used"`
}

// Status reports current usage of every tier.
func (g *Group) Status(ctx context.Context) []TierStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked(ctx)
	now := g.clock.Now()
	out := make([]TierStatus, len(g.limiters))
	for i, l := range g.limiters {
		l.prune(now)
		out[i] = TierStatus{Label: l.Label, Period: l.Period, Limit: l.Limit, Used: len(l.calls)}
	}
	return out
}
