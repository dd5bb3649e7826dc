// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
)

const defaultDiscardRatio = 0.5

// GarbageCollector is satisfied by *store.Store.
type GarbageCollector interface {
	RunGC(discardRatio float64) (int, error)
}

// StoreGCService periodically reclaims space in the badger value log.
//
// Stream imports and athlete purges leave large dead values behind, so the
// value log is rewritten on a fixed interval rather than only at startup.
type StoreGCService struct {
	gc           GarbageCollector
	interval     time.Duration
	discardRatio float64
	name         string
}

// NewStoreGCService creates the service. A non-positive interval disables
// GC; the service then exits without being restarted.
func NewStoreGCService(gc GarbageCollector, interval time.Duration, discardRatio float64) *StoreGCService {
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = defaultDiscardRatio
	}
	return &StoreGCService{
		gc:           gc,
		interval:     interval,
		discardRatio: discardRatio,
		name:         "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		logging.Info().Msg("Store GC disabled")
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(); err != nil {
				return err
			}
		}
	}
}

// RunOnce performs a single GC pass and records the result.
func (s *StoreGCService) RunOnce() error {
	start := time.Now()
	rewrites, err := s.gc.RunGC(s.discardRatio)
	if err != nil {
		metrics.StoreGCRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("store gc: %w", err)
	}

	if rewrites == 0 {
		metrics.StoreGCRuns.WithLabelValues("noop").Inc()
		return nil
	}
	metrics.StoreGCRuns.WithLabelValues("rewritten").Inc()
	logging.Info().
		Int("rewrites", rewrites).
		Dur("duration", time.Since(start)).
		Msg("Store value log GC completed")
	return nil
}

func (s *StoreGCService) String() string {
	return s.name
}
