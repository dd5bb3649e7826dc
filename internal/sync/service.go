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

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/store"
	"github.com/tomtom215/athletesync/internal/validation"
	"github.com/tomtom215/athletesync/internal/workerpool"
)

// ServiceStore is the persistence used by the Service.
type ServiceStore interface {
	GetAthlete(ctx context.Context, id int64) (*models.Athlete, error)
	PutAthlete(ctx context.Context, a *models.Athlete) error
	UpdateAthlete(ctx context.Context, id int64, fn func(*models.Athlete) error) (*models.Athlete, error)
	ListAthletes(ctx context.Context) ([]*models.Athlete, error)
	AllActivityIDs(ctx context.Context, athlete int64) ([]int64, error)
	ActivityIDsWithSyncVersion(ctx context.Context, athlete int64, target string, version int) ([]int64, error)
	ActivityIDsWithSyncLatest(ctx context.Context, athlete int64, target string, latest int) ([]int64, error)
	GetActivities(ctx context.Context, ids []int64) ([]*models.Activity, error)
	CountActivities(ctx context.Context, athlete int64) (int, error)
	ClearSyncState(ctx context.Context, athlete int64, target string) (int, error)
	PutStreams(ctx context.Context, recs []models.StreamRecord) error
	IterateStreams(ctx context.Context, athlete int64, fn func(models.StreamRecord) error) error
}

// LimiterGroup is the streams rate limiter as seen by the Service.
type LimiterGroup interface {
	Increment(ctx context.Context)
	Sleeping() bool
	Resumes() time.Time
}

// Executor runs named analysis calls.
type Executor interface {
	Exec(ctx context.Context, call string, args ...any) (any, error)
}

// FTPSource returns the current user's FTP history.
type FTPSource interface {
	SelfFTPHistory(ctx context.Context) ([]models.ValueAt, error)
}

// Subscriber delivers the events of one athlete.
type Subscriber interface {
	Subscribe(ctx context.Context, athlete int64) (<-chan events.Event, error)
}

// ServiceDeps are the collaborators of a Service. Pool, FTP and Events are
// optional.
type ServiceDeps struct {
	Store   ServiceStore
	Holder  *Holder
	Limiter LimiterGroup
	Local   *manifest.Local
	Pool    Executor
	FTP     FTPSource
	Events  Subscriber
}

// Service is the management facade over the store, the current sync
// manager and the analysis pool.
type Service struct {
	store   ServiceStore
	holder  *Holder
	limiter LimiterGroup
	local   *manifest.Local
	pool    Executor
	ftp     FTPSource
	events  Subscriber
	now     func() time.Time
}

// NewService creates the facade.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		store:   deps.Store,
		holder:  deps.Holder,
		limiter: deps.Limiter,
		local:   deps.Local,
		pool:    deps.Pool,
		ftp:     deps.FTP,
		events:  deps.Events,
		now:     time.Now,
	}
}

// AddAthleteRequest creates or updates an athlete.
type AddAthleteRequest struct {
	ID     int64  `json:"id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required,max=200"`
	Gender string `json:"gender" validate:"required,oneof=male female"`

	FTPHistory    []models.ValueAt `json:"ftp_history,omitempty"`
	WeightHistory []models.ValueAt `json:"weight_history,omitempty"`
}

func (s *Service) manager() (*Manager, error) {
	if s.holder == nil {
		return nil, ErrManagerUnavailable
	}
	m := s.holder.Current()
	if m == nil {
		return nil, ErrManagerUnavailable
	}
	return m, nil
}

// AddAthlete validates req and upserts the athlete. Existing sync state is
// preserved on update.
func (s *Service) AddAthlete(ctx context.Context, req AddAthleteRequest) (*models.Athlete, error) {
	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}
	a, err := s.store.UpdateAthlete(ctx, req.ID, func(a *models.Athlete) error {
		a.Name = req.Name
		a.Gender = req.Gender
		if req.FTPHistory != nil {
			a.FTPHistory = req.FTPHistory
		}
		if req.WeightHistory != nil {
			a.WeightHistory = req.WeightHistory
		}
		return nil
	})
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("update athlete %d: %w", req.ID, err)
	}
	a = &models.Athlete{
		ID:            req.ID,
		Name:          req.Name,
		Gender:        req.Gender,
		FTPHistory:    req.FTPHistory,
		WeightHistory: req.WeightHistory,
	}
	if err := s.store.PutAthlete(ctx, a); err != nil {
		return nil, fmt.Errorf("add athlete %d: %w", req.ID, err)
	}
	logging.Info().Int64("athlete", a.ID).Str("name", a.Name).Msg("Added athlete")
	return a, nil
}

// GetAthlete returns a stored athlete.
func (s *Service) GetAthlete(ctx context.Context, id int64) (*models.Athlete, error) {
	a, err := s.store.GetAthlete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAthleteNotFound, id)
	}
	return a, err
}

// ListAthletes returns every stored athlete.
func (s *Service) ListAthletes(ctx context.Context) ([]*models.Athlete, error) {
	return s.store.ListAthletes(ctx)
}

// EnableAthlete turns sync on for the athlete.
func (s *Service) EnableAthlete(ctx context.Context, id int64) error {
	if verr := validation.ValidateVar("id", id, "required,gt=0"); verr != nil {
		return verr
	}
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.EnableAthlete(ctx, id)
}

// DisableAthlete turns sync off for the athlete.
func (s *Service) DisableAthlete(ctx context.Context, id int64) error {
	if verr := validation.ValidateVar("id", id, "required,gt=0"); verr != nil {
		return verr
	}
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.DisableAthlete(ctx, id)
}

// InvalidateSyncState clears target on every activity of the athlete and,
// when a manager runs, re-enables the athlete so it syncs again. It returns
// the number of activities.
func (s *Service) InvalidateSyncState(ctx context.Context, athlete int64, target string) (int, error) {
	if verr := validation.ValidateVar("athlete", athlete, "required,gt=0"); verr != nil {
		return 0, verr
	}
	if verr := validation.ValidateVar("target", target, "required,synctarget"); verr != nil {
		return 0, verr
	}
	n, err := s.store.ClearSyncState(ctx, athlete, target)
	if err != nil {
		return 0, fmt.Errorf("clear %s sync state: %w", target, err)
	}
	if m, err := s.manager(); err == nil {
		if err := m.EnableAthlete(ctx, athlete); err != nil {
			return n, err
		}
	}
	logging.Info().Int64("athlete", athlete).Str("target", target).Int("activities", n).Msg("Invalidated sync state")
	return n, nil
}

// IncrementStreamsUsage records a streams call made outside of sync, so the
// shared budget accounts for it.
func (s *Service) IncrementStreamsUsage(ctx context.Context) {
	if s.limiter != nil {
		s.limiter.Increment(ctx)
	}
}

// GetSelfFTPHistory returns the current user's FTP history.
func (s *Service) GetSelfFTPHistory(ctx context.Context) ([]models.ValueAt, error) {
	if s.ftp == nil {
		return nil, errors.New("ftp history source not configured")
	}
	return s.ftp.SelfFTPHistory(ctx)
}

// FindPeaks runs a peak search through the worker pool.
func (s *Service) FindPeaks(ctx context.Context, inputs []analysis.PeaksInput, periods []int) ([]analysis.Peak, error) {
	out, err := s.exec(ctx, workerpool.CallFindPeaks, inputs, periods)
	if err != nil {
		return nil, err
	}
	peaks, ok := out.([]analysis.Peak)
	if !ok {
		return nil, fmt.Errorf("%w: findPeaks returned %T", workerpool.ErrInvalidMessage, out)
	}
	return peaks, nil
}

// BulkTSS computes training stress for many activities through the worker
// pool.
func (s *Service) BulkTSS(ctx context.Context, inputs []analysis.TSSInput) ([]analysis.TSSResult, error) {
	out, err := s.exec(ctx, workerpool.CallBulkTSS, inputs)
	if err != nil {
		return nil, err
	}
	res, ok := out.([]analysis.TSSResult)
	if !ok {
		return nil, fmt.Errorf("%w: bulkTSS returned %T", workerpool.ErrInvalidMessage, out)
	}
	return res, nil
}

func (s *Service) exec(ctx context.Context, call string, args ...any) (any, error) {
	if s.pool == nil {
		return nil, workerpool.ErrPoolClosed
	}
	return s.pool.Exec(ctx, call, args...)
}

// Controller returns the management facade of one athlete.
func (s *Service) Controller(athlete int64) *Controller {
	return &Controller{svc: s, athlete: athlete}
}
