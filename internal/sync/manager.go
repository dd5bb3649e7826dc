// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
manager.go - Sync manager control loop

The Manager is the single authority deciding which enabled athletes have an
active Job. Each loop iteration:

 1. Clears the wake signal
 2. Starts a job for every enabled, inactive athlete that is due or has a
    pending refresh request
 3. Sleeps until the soonest athlete becomes due or the wake signal fires

Enable, disable, refresh requests, job completion and Stop all fire the
wake signal. A failing iteration is logged and retried after an
exponential backoff so the loop never dies from a transient error.

Athlete read-modify-write (sync flag, last sync, last error) happens under
one mutex so a finishing job cannot clobber a concurrent enable or disable.
Lock order is athleteMu before mu.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/store"
)

var (
	// ErrAthleteNotFound is returned for operations on unknown athletes.
	ErrAthleteNotFound = errors.New("athlete not found")

	// ErrManagerUnavailable is returned when no sync manager is running.
	ErrManagerUnavailable = errors.New("sync manager is not available")
)

// ManagerStore is the persistence used by the Manager.
type ManagerStore interface {
	EnabledAthletes(ctx context.Context) ([]*models.Athlete, error)
	GetAthlete(ctx context.Context, id int64) (*models.Athlete, error)
	UpdateAthlete(ctx context.Context, id int64, fn func(*models.Athlete) error) (*models.Athlete, error)
	DeleteAthlete(ctx context.Context, athlete int64) error
}

// Manager schedules sync jobs for the enabled athletes.
type Manager struct {
	currentUser int64
	store       ManagerStore
	discovery   Discoverer
	data        DataSyncer
	bus         events.Publisher
	cfg         config.SyncConfig
	now         func() time.Time

	// athleteMu guards read-modify-write of athlete records.
	athleteMu sync.Mutex

	mu              sync.Mutex
	active          map[int64]*Job
	refreshRequests map[int64]bool
	// disabled holds athletes disabled while this manager runs. It catches
	// a refresh working from an EnabledAthletes read taken before the
	// disable landed.
	disabled map[int64]bool
	stopping bool

	wake     chan struct{}
	jobs     sync.WaitGroup
	loop     sync.WaitGroup
	jobCtx   context.Context
	stopJobs context.CancelFunc
}

// NewManager creates a manager for currentUser. bus may be nil.
func NewManager(currentUser int64, st ManagerStore, discovery Discoverer, data DataSyncer, bus events.Publisher, cfg config.SyncConfig) *Manager {
	if cfg.LoopBackoffInitial <= 0 {
		cfg.LoopBackoffInitial = time.Second
	}
	if cfg.LoopBackoffMultiplier < 1 {
		cfg.LoopBackoffMultiplier = 1.5
	}
	if cfg.LoopBackoffMax <= 0 {
		cfg.LoopBackoffMax = 10 * time.Minute
	}
	jobCtx, stopJobs := context.WithCancel(context.Background())
	logging.Info().Int64("current_user", currentUser).Msg("Starting sync manager")
	return &Manager{
		currentUser:     currentUser,
		store:           st,
		discovery:       discovery,
		data:            data,
		bus:             bus,
		cfg:             cfg,
		now:             time.Now,
		active:          make(map[int64]*Job),
		refreshRequests: make(map[int64]bool),
		disabled:        make(map[int64]bool),
		wake:            make(chan struct{}, 1),
		jobCtx:          jobCtx,
		stopJobs:        stopJobs,
	}
}

// CurrentUser returns the athlete id the manager runs for.
func (m *Manager) CurrentUser() int64 {
	return m.currentUser
}

// RefreshInterval returns the minimum time between syncs of one athlete.
func (m *Manager) RefreshInterval() time.Duration {
	return m.cfg.RefreshInterval
}

// String implements fmt.Stringer for suture logging.
func (m *Manager) String() string {
	return fmt.Sprintf("sync-manager(%d)", m.currentUser)
}

// Serve runs the control loop until Stop is called or ctx ends. It
// implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	m.loop.Add(1)
	defer m.loop.Done()
	return m.serve(ctx)
}

// Start runs the control loop in a new goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.loop.Add(1)
	go func() {
		defer m.loop.Done()
		if err := m.serve(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, suture.ErrDoNotRestart) {
			logging.Error().Err(err).Msg("Sync manager loop ended")
		}
	}()
}

func (m *Manager) serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, m.Stop)
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.LoopBackoffInitial
	bo.Multiplier = m.cfg.LoopBackoffMultiplier
	bo.MaxInterval = m.cfg.LoopBackoffMax
	bo.RandomizationFactor = 0
	bo.Reset()

	for {
		m.clearWake()
		if m.isStopping() {
			break
		}
		if err := m.refresh(ctx); err != nil {
			m.loopError(err)
			m.sleep(ctx, bo.NextBackOff())
			continue
		}

		wait, ok, err := m.nextDeadline(ctx)
		if err != nil {
			m.loopError(err)
			m.sleep(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()

		if !ok {
			logging.Debug().Msg("No athletes due for sync, waiting for wake signal")
			select {
			case <-m.wake:
			case <-ctx.Done():
			}
			continue
		}
		logging.Debug().Dur("deadline", wait).Msg("Next sync manager refresh")
		m.sleep(ctx, wait)
	}

	if ctx.Err() != nil {
		m.jobs.Wait()
		return ctx.Err()
	}
	return suture.ErrDoNotRestart
}

func (m *Manager) loopError(err error) {
	metrics.SyncLoopErrors.Inc()
	logging.Error().Err(err).Msg("Sync manager refresh error")
}

// sleep waits for d, the wake signal or ctx, whichever is first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.wake:
	case <-ctx.Done():
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) clearWake() {
	select {
	case <-m.wake:
	default:
	}
}

func (m *Manager) isStopping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// due reports whether the athlete should sync now by the refresh rule.
func (m *Manager) due(a *models.Athlete, now time.Time) bool {
	return now.Sub(time.UnixMilli(a.LastSync)) >= m.cfg.RefreshInterval && !m.deferred(a, now)
}

// deferred reports whether the athlete failed within the error backoff.
func (m *Manager) deferred(a *models.Athlete, now time.Time) bool {
	return a.LastError != 0 && now.Sub(time.UnixMilli(a.LastError)) < m.cfg.RefreshErrorBackoff
}

// dueAt returns when the refresh rule next admits the athlete.
func (m *Manager) dueAt(a *models.Athlete) time.Time {
	at := time.UnixMilli(a.LastSync).Add(m.cfg.RefreshInterval)
	if a.LastError != 0 {
		if until := time.UnixMilli(a.LastError).Add(m.cfg.RefreshErrorBackoff); until.After(at) {
			at = until
		}
	}
	return at
}

func (m *Manager) refresh(ctx context.Context) error {
	athletes, err := m.store.EnabledAthletes(ctx)
	if err != nil {
		return fmt.Errorf("load enabled athletes: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range athletes {
		if m.stopping {
			return nil
		}
		if _, ok := m.active[a.ID]; ok || m.disabled[a.ID] {
			continue
		}
		if m.refreshRequests[a.ID] || m.due(a, now) {
			delete(m.refreshRequests, a.ID)
			m.startJobLocked(a)
		}
	}
	return nil
}

// nextDeadline returns how long until the soonest inactive athlete becomes
// due. ok is false when there is nothing to wait for.
func (m *Manager) nextDeadline(ctx context.Context) (wait time.Duration, ok bool, err error) {
	athletes, err := m.store.EnabledAthletes(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("load enabled athletes: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	var soonest time.Time
	for _, a := range athletes {
		if _, active := m.active[a.ID]; active || m.disabled[a.ID] {
			continue
		}
		at := m.dueAt(a)
		if !ok || at.Before(soonest) {
			soonest = at
			ok = true
		}
	}
	if !ok {
		return 0, false, nil
	}
	return max(soonest.Sub(now), 0), true, nil
}

func (m *Manager) startJobLocked(a *models.Athlete) {
	isSelf := a.ID == m.currentUser
	id := a.ID
	opts := SyncOptions{
		OnStreams: func(r StreamsResult) {
			if r.Err == nil {
				m.publish(events.Event{
					Kind:     events.KindProgress,
					Athlete:  id,
					Progress: &events.Progress{Sync: events.ProgressStreams, Activity: r.Activity.ID},
				})
			}
		},
		OnLocalProcessing: func(r LocalResult) {
			if len(r.Complete) == 0 {
				return
			}
			ids := make([]int64, len(r.Complete))
			for i, x := range r.Complete {
				ids[i] = x.ID
			}
			m.publish(events.Event{
				Kind:     events.KindProgress,
				Athlete:  id,
				Progress: &events.Progress{Sync: events.ProgressLocal, Activities: ids},
			})
		},
		SaveAthlete: func(ctx context.Context, fn func(*models.Athlete)) (*models.Athlete, error) {
			return m.UpdateAthlete(ctx, id, fn)
		},
	}
	job := NewJob(a, isSelf, m.discovery, m.data, opts)
	m.active[id] = job
	m.jobs.Add(1)
	go m.runSyncJob(job)
}

func (m *Manager) runSyncJob(job *Job) {
	defer m.jobs.Done()
	id := job.Athlete()
	start := time.Now()
	log := logging.With().Int64("athlete", id).Str("job_id", job.ID.String()).Logger()
	log.Debug().Msg("Starting sync job")
	metrics.SyncJobsActive.Inc()
	defer metrics.SyncJobsActive.Dec()

	m.publish(events.Event{Kind: events.KindStart, Athlete: id})
	job.Run(m.jobCtx)
	err := job.Wait(context.Background())
	finished := m.now()
	if err != nil {
		log.Error().Err(err).Str("status", string(job.Status())).Msg("Sync error occurred")
		m.publish(events.Event{
			Kind:    events.KindError,
			Athlete: id,
			Status:  string(job.Status()),
			Error:   err.Error(),
		})
	}

	m.athleteMu.Lock()
	_, uerr := m.store.UpdateAthlete(context.Background(), id, func(a *models.Athlete) error {
		a.LastSync = finished.UnixMilli()
		if err != nil {
			a.LastError = finished.UnixMilli()
		}
		return nil
	})
	m.athleteMu.Unlock()
	if uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
		log.Error().Err(uerr).Msg("Failed to record sync result")
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	m.signal()

	status := job.Status()
	m.publish(events.Event{Kind: events.KindStop, Athlete: id, Status: string(status)})
	metrics.RecordSyncJob(string(status), time.Since(start))
	log.Debug().Dur("duration", time.Since(start)).Str("status", string(status)).Msg("Sync completed")
}

func (m *Manager) publish(ev events.Event) {
	if m.bus == nil {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = m.now()
	}
	if err := m.bus.Publish(ev); err != nil {
		logging.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to publish sync event")
	}
}

// IsActive reports whether the athlete has a running job.
func (m *Manager) IsActive(athlete int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[athlete]
	return ok
}

// ActiveJob returns the running job of the athlete, or nil.
func (m *Manager) ActiveJob(athlete int64) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[athlete]
}

// ActiveAthletes returns the ids of athletes with a running job.
func (m *Manager) ActiveAthletes() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// RefreshRequest asks for a sync of the athlete regardless of its last
// sync time.
func (m *Manager) RefreshRequest(athlete int64) {
	m.mu.Lock()
	m.refreshRequests[athlete] = true
	m.mu.Unlock()
	m.signal()
}

// UpdateAthlete applies fn to the stored athlete under the athlete lock.
func (m *Manager) UpdateAthlete(ctx context.Context, id int64, fn func(*models.Athlete)) (*models.Athlete, error) {
	m.athleteMu.Lock()
	defer m.athleteMu.Unlock()
	return m.updateAthleteLocked(ctx, id, fn)
}

// updateAthleteLocked requires athleteMu.
func (m *Manager) updateAthleteLocked(ctx context.Context, id int64, fn func(*models.Athlete)) (*models.Athlete, error) {
	a, err := m.store.UpdateAthlete(ctx, id, func(a *models.Athlete) error {
		fn(a)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAthleteNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update athlete %d: %w", id, err)
	}
	return a, nil
}

// EnableAthlete turns sync on and resets the athlete's sync bookkeeping so
// it becomes due immediately.
func (m *Manager) EnableAthlete(ctx context.Context, id int64) error {
	m.athleteMu.Lock()
	_, err := m.updateAthleteLocked(ctx, id, func(a *models.Athlete) {
		a.Sync = true
		a.LastSync = 0
		a.LastError = 0
		a.SyncStatus = models.SyncStatusNew
	})
	if err == nil {
		m.mu.Lock()
		delete(m.disabled, id)
		m.mu.Unlock()
	}
	m.athleteMu.Unlock()
	if err != nil {
		return err
	}
	m.signal()
	m.publish(events.Event{Kind: events.KindEnable, Athlete: id})
	return nil
}

// DisableAthlete turns sync off and cancels a running job. No job starts
// for the athlete afterwards until it is enabled again.
func (m *Manager) DisableAthlete(ctx context.Context, id int64) error {
	m.athleteMu.Lock()
	_, err := m.updateAthleteLocked(ctx, id, func(a *models.Athlete) {
		a.Sync = false
	})
	if err == nil {
		m.mu.Lock()
		m.disabled[id] = true
		delete(m.refreshRequests, id)
		if job := m.active[id]; job != nil {
			job.Cancel()
		}
		m.mu.Unlock()
	}
	m.athleteMu.Unlock()
	if err != nil {
		return err
	}
	m.signal()
	m.publish(events.Event{Kind: events.KindDisable, Athlete: id})
	return nil
}

// PurgeAthleteData deletes the athlete's activities and streams.
func (m *Manager) PurgeAthleteData(ctx context.Context, id int64) error {
	if err := m.store.DeleteAthlete(ctx, id); err != nil {
		return fmt.Errorf("purge athlete %d: %w", id, err)
	}
	logging.Warn().Int64("athlete", id).Msg("Purged athlete data")
	return nil
}

// Stop cancels all running jobs and ends the control loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	for _, job := range m.active {
		job.Cancel()
	}
	m.mu.Unlock()
	m.stopJobs()
	m.signal()
}

// Join waits for running jobs and the control loop to finish.
func (m *Manager) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.jobs.Wait()
		m.loop.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
