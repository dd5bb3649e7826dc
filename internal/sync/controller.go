// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/models"
)

// Controller manages the sync of one athlete and reports its progress.
type Controller struct {
	svc     *Service
	athlete int64
}

// Athlete returns the athlete id.
func (c *Controller) Athlete() int64 {
	return c.athlete
}

// IsActive reports whether a job is running for the athlete.
func (c *Controller) IsActive() bool {
	m, err := c.svc.manager()
	return err == nil && m.IsActive(c.athlete)
}

// Start enables sync for the athlete.
func (c *Controller) Start(ctx context.Context) error {
	m, err := c.svc.manager()
	if err != nil {
		return err
	}
	return m.EnableAthlete(ctx, c.athlete)
}

// Cancel stops the running job and waits for it. It reports whether a job
// was running.
func (c *Controller) Cancel(ctx context.Context) (bool, error) {
	m, err := c.svc.manager()
	if err != nil {
		return false, nil
	}
	job := m.ActiveJob(c.athlete)
	if job == nil {
		return false, nil
	}
	job.Cancel()
	if err := job.Wait(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Invalidate clears the sync state of target for all activities of the
// athlete.
func (c *Controller) Invalidate(ctx context.Context, target string) (int, error) {
	if _, err := c.svc.manager(); err != nil {
		return 0, err
	}
	return c.svc.InvalidateSyncState(ctx, c.athlete, target)
}

// RateLimiterSleeping reports whether streams fetching is blocked on the
// rate limit.
func (c *Controller) RateLimiterSleeping() bool {
	return c.svc.limiter != nil && c.svc.limiter.Sleeping()
}

// RateLimiterResumes returns when a blocked rate limiter releases. ok is
// false when it is not sleeping.
func (c *Controller) RateLimiterResumes() (t time.Time, ok bool) {
	if !c.RateLimiterSleeping() {
		return time.Time{}, false
	}
	return c.svc.limiter.Resumes(), true
}

// ActivitiesCount returns the number of stored activities.
func (c *Controller) ActivitiesCount(ctx context.Context) (int, error) {
	return c.svc.store.CountActivities(ctx, c.athlete)
}

// ActivitiesSynced returns how many activities need no further work.
// Activities without streams and activities deferred by an error count as
// synced.
func (c *Controller) ActivitiesSynced(ctx context.Context) (int, error) {
	st := c.svc.store
	noStreams, err := idSet(func() ([]int64, error) {
		return st.ActivityIDsWithSyncVersion(ctx, c.athlete, models.TargetStreams, models.VersionNever)
	})
	if err != nil {
		return 0, err
	}
	var processed map[int64]bool
	if c.svc.local != nil {
		processed, err = idSet(func() ([]int64, error) {
			return st.ActivityIDsWithSyncLatest(ctx, c.athlete, models.TargetLocal, c.svc.local.Latest())
		})
		if err != nil {
			return 0, err
		}
	}
	all, err := st.AllActivityIDs(ctx, c.athlete)
	if err != nil {
		return 0, err
	}
	var unsynced []int64
	for _, id := range all {
		if !noStreams[id] && !processed[id] {
			unsynced = append(unsynced, id)
		}
	}
	if c.svc.local == nil {
		return len(all) - len(unsynced), nil
	}
	acts, err := st.GetActivities(ctx, unsynced)
	if err != nil {
		return 0, err
	}
	now := c.svc.now()
	pending := 0
	for _, a := range acts {
		if c.svc.local.NextSync(a, now) != nil {
			pending++
		}
	}
	return len(all) - pending, nil
}

// LastSync returns when the athlete last finished a sync, or the zero time.
func (c *Controller) LastSync(ctx context.Context) (time.Time, error) {
	a, err := c.svc.GetAthlete(ctx, c.athlete)
	if err != nil {
		return time.Time{}, err
	}
	if a.LastSync == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(a.LastSync), nil
}

// NextSync returns when the athlete becomes due by the refresh interval.
func (c *Controller) NextSync(ctx context.Context) (time.Time, error) {
	m, err := c.svc.manager()
	if err != nil {
		return time.Time{}, err
	}
	a, err := c.svc.GetAthlete(ctx, c.athlete)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(a.LastSync).Add(m.RefreshInterval()), nil
}

// Subscribe delivers the athlete's sync events until ctx ends.
func (c *Controller) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	if c.svc.events == nil {
		return nil, errors.New("event bus not configured")
	}
	ch, err := c.svc.events.Subscribe(ctx, c.athlete)
	if err != nil {
		return nil, fmt.Errorf("subscribe to athlete %d: %w", c.athlete, err)
	}
	return ch, nil
}
