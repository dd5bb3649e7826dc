// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package ratelimit enforces the outbound call budget of the remote service.
//
// A Limiter tracks one rolling window ("at most Limit calls per Period").
// A Group ANDs several limiters: Wait blocks until every tier admits a call.
// Call history is persisted through a StateStore so budgets survive restarts.
package ratelimit

import (
	"time"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/models"
)

// Tier describes one rolling window budget.
type Tier struct {
	Label  string
	Period time.Duration
	Limit  int
	// Spread enforces a minimum gap of Period/Limit between calls instead
	// of letting them burst up to Limit.
	Spread bool
}

// TiersFromConfig converts configured tiers.
func TiersFromConfig(cfgs []config.TierConfig) []Tier {
	tiers := make([]Tier, len(cfgs))
	for i, c := range cfgs {
		tiers[i] = Tier{Label: c.Label, Period: c.Period, Limit: c.Limit, Spread: c.Spread}
	}
	return tiers
}

// Limiter is the sliding call history of one tier. It is not safe for
// concurrent use; Group serializes access.
type Limiter struct {
	Tier
	calls []time.Time
}

func newLimiter(t Tier) *Limiter {
	return &Limiter{Tier: t}
}

// prune drops calls that fell out of the window.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.Period)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// nextAllowed returns the earliest time a call may be made.
func (l *Limiter) nextAllowed(now time.Time) time.Time {
	l.prune(now)
	n := len(l.calls)
	if n >= l.Limit {
		return l.calls[n-l.Limit].Add(l.Period)
	}
	if l.Spread && n > 0 {
		next := l.calls[n-1].Add(l.Period / time.Duration(l.Limit))
		if next.After(now) {
			return next
		}
	}
	return now
}

func (l *Limiter) record(ts time.Time) {
	// Keep history sorted even if the clock stepped backwards.
	i := len(l.calls)
	for i > 0 && l.calls[i-1].After(ts) {
		i--
	}
	l.calls = append(l.calls, time.Time{})
	copy(l.calls[i+1:], l.calls[i:])
	l.calls[i] = ts
}

func (l *Limiter) state() *models.RateLimiterState {
	st := &models.RateLimiterState{Label: l.Label, Calls: make([]int64, len(l.calls))}
	for i, c := range l.calls {
		st.Calls[i] = c.UnixMilli()
	}
	return st
}

func (l *Limiter) restore(st *models.RateLimiterState) {
	l.calls = l.calls[:0]
	for _, ms := range st.Calls {
		l.record(time.UnixMilli(ms))
	}
}
