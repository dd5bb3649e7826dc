// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/athletesync/internal/models"
)

// Status is the state of a Job.
type Status string

// Job states. Complete and Error are terminal.
const (
	StatusInit           Status = "init"
	StatusActivitiesScan Status = "activities-scan"
	StatusStreamsSync    Status = "streams-sync"
	StatusComplete       Status = "complete"
	StatusError          Status = "error"
)

// Discoverer imports newly listed activities of an athlete.
type Discoverer interface {
	Sync(ctx context.Context, athlete int64, isSelf bool) error
}

// DataSyncer brings an athlete's activity data up to date.
type DataSyncer interface {
	SyncData(ctx context.Context, athlete *models.Athlete, opts SyncOptions) error
}

// Job syncs one athlete: discovery first, then the streams pipeline.
type Job struct {
	ID        uuid.UUID
	athleteID int64
	athlete   *models.Athlete
	isSelf    bool

	discovery Discoverer
	data      DataSyncer
	opts      SyncOptions

	mu        sync.Mutex
	status    Status
	cancel    context.CancelFunc
	cancelled bool
	started   bool
	done      chan struct{}
	err       error
}

// NewJob creates a job in the init state.
func NewJob(athlete *models.Athlete, isSelf bool, discovery Discoverer, data DataSyncer, opts SyncOptions) *Job {
	return &Job{
		ID:        uuid.New(),
		athleteID: athlete.ID,
		athlete:   athlete,
		isSelf:    isSelf,
		discovery: discovery,
		data:      data,
		opts:      opts,
		status:    StatusInit,
		done:      make(chan struct{}),
	}
}

// Athlete returns the athlete id of the job.
func (j *Job) Athlete() int64 {
	return j.athleteID
}

// Status returns the current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Run starts the job in its own goroutine. Subsequent calls are no-ops.
func (j *Job) Run(ctx context.Context) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	j.started = true
	ctx, j.cancel = context.WithCancel(ctx)
	if j.cancelled {
		j.cancel()
	}
	j.mu.Unlock()

	go func() {
		defer close(j.done)
		defer j.cancel()
		err := j.run(ctx)
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
	}()
}

// Wait blocks until the job finishes and returns its error. A cancelled
// job returns nil.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel asks the job to stop at its next suspension point. The status is
// left as it is.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *Job) run(ctx context.Context) error {
	j.setStatus(StatusActivitiesScan)
	if err := j.discovery.Sync(ctx, j.athleteID, j.isSelf); err != nil {
		if stopped(ctx, err) {
			return nil
		}
		return fmt.Errorf("activities scan: %w", err)
	}

	j.setStatus(StatusStreamsSync)
	if err := j.data.SyncData(ctx, j.athlete, j.opts); err != nil {
		if stopped(ctx, err) {
			return nil
		}
		j.setStatus(StatusError)
		return fmt.Errorf("streams sync: %w", err)
	}
	j.setStatus(StatusComplete)
	return nil
}

// stopped reports whether err is the result of the job being cancelled.
func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
