// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

// Package discovery imports activity identities from the remote service.
//
// The current user's activities come from a paged listing that declares a
// total. Other athletes are discovered by scanning a monthly feed backwards
// in time; a persisted sentinel records how far back a scan completed so it
// can resume after a restart. Both walks fetch with adaptive concurrency
// that starts at 1 and doubles each round up to MaxConcurrency.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/remote"
	"github.com/tomtom215/athletesync/internal/store"
)

// MaxConcurrency caps concurrent page or month fetches.
const MaxConcurrency = 25

const (
	// minEmpty is the number of empty months in one round that ends a
	// historical scan.
	minEmpty = 12
	// minRedundant is the number of months with no new activities in one
	// round that ends an incremental scan.
	minRedundant = 2
	// earliestYear bounds the backwards scan.
	earliestYear = 2000
)

// SelfSource lists the current user's activities.
type SelfSource interface {
	TrainingActivities(ctx context.Context, page int) (*remote.TrainingActivitiesPage, error)
}

// PeerSource returns the raw monthly feed of any athlete.
type PeerSource interface {
	IntervalFeed(ctx context.Context, athlete int64, year, month int) (string, error)
}

// Store is the persistence discovery needs.
type Store interface {
	AllActivityIDs(ctx context.Context, athlete int64) ([]int64, error)
	PutActivities(ctx context.Context, acts []*models.Activity) error
	FirstActivity(ctx context.Context, athlete int64) (*models.Activity, error)
	GetPeerSentinel(ctx context.Context, athlete int64) (*models.PeerSentinel, error)
	PutPeerSentinel(ctx context.Context, ps *models.PeerSentinel) error
}

// Discoverer imports newly seen activities into the store.
type Discoverer struct {
	self  SelfSource
	peer  PeerSource
	store Store
	now   func() time.Time
}

// New creates a Discoverer.
func New(self SelfSource, peer PeerSource, st Store) *Discoverer {
	return &Discoverer{self: self, peer: peer, store: st, now: time.Now}
}

// Sync imports the athlete's activities. isSelf selects the listing used
// for the authenticated user instead of the peer feed.
func (d *Discoverer) Sync(ctx context.Context, athlete int64, isSelf bool) error {
	var (
		n   int
		err error
	)
	if isSelf {
		n, err = d.SyncSelfActivities(ctx, athlete)
	} else {
		n, err = d.SyncPeerActivities(ctx, athlete)
	}
	if n > 0 {
		source := "peer"
		if isSelf {
			source = "self"
		}
		metrics.ActivitiesDiscovered.WithLabelValues(source).Add(float64(n))
	}
	return err
}

func (d *Discoverer) knownIDs(ctx context.Context, athlete int64) (map[int64]bool, error) {
	ids, err := d.store.AllActivityIDs(ctx, athlete)
	if err != nil {
		return nil, fmt.Errorf("load known activity ids: %w", err)
	}
	known := make(map[int64]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

// SyncSelfActivities pages through the current user's listing until a round
// adds nothing and at least the declared total is known. It returns the
// number of imported activities.
//
// Deleting many remote activities can leave the local count above the
// declared total and stop the walk early. A full resync recovers.
func (d *Discoverer) SyncSelfActivities(ctx context.Context, athlete int64) (int, error) {
	known, err := d.knownIDs(ctx, athlete)
	if err != nil {
		return 0, err
	}
	log := logging.Ctx(ctx)

	added := 0
	page, pageCount, total := 1, 0, -1
	for concurrency := 1; ; concurrency = min(concurrency*2, MaxConcurrency) {
		var pages []int
		for i := 0; page == 1 || (page <= pageCount && i < concurrency); page, i = page+1, i+1 {
			pages = append(pages, page)
		}
		if len(pages) == 0 {
			break
		}

		results := make([]*remote.TrainingActivitiesPage, len(pages))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(MaxConcurrency)
		for i, p := range pages {
			g.Go(func() error {
				res, err := d.self.TrainingActivities(gctx, p)
				if err != nil {
					return fmt.Errorf("training activities page %d: %w", p, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return added, err
		}

		var adding []*models.Activity
		for _, res := range results {
			if total < 0 {
				total = res.Total
				perPage := max(res.PerPage, 1)
				pageCount = (total + perPage - 1) / perPage
			}
			for _, x := range res.Models {
				if known[x.ID] {
					continue
				}
				known[x.ID] = true
				adding = append(adding, &models.Activity{
					ID:       x.ID,
					Athlete:  athlete,
					TS:       x.StartDateLocalRaw * 1000,
					BaseType: BaseType(x.Type),
					Name:     x.Name,
					Type:     x.Type,
					Trainer:  x.Trainer,
				})
			}
		}

		if len(adding) > 0 {
			if err := d.store.PutActivities(ctx, adding); err != nil {
				return added, fmt.Errorf("import activities: %w", err)
			}
			added += len(adding)
			log.Info().Int("count", len(adding)).Msg("Found new activities")
		} else if len(known) >= total {
			break
		}
	}
	return added, nil
}

// monthIter walks calendar months backwards starting at t's month (UTC).
type monthIter struct {
	year, month int
}

func newMonthIter(t time.Time) *monthIter {
	t = t.UTC()
	return &monthIter{year: t.Year(), month: int(t.Month())}
}

func (it *monthIter) next() (year, month int) {
	year, month = it.year, it.month
	it.month--
	if it.month == 0 {
		it.year--
		it.month = 12
	}
	return year, month
}

// SyncPeerActivities scans the athlete's monthly feed from now backwards.
// If no earlier scan ever completed, it resumes from the oldest known
// activity. It returns the number of imported activities.
func (d *Discoverer) SyncPeerActivities(ctx context.Context, athlete int64) (int, error) {
	known, err := d.knownIDs(ctx, athlete)
	if err != nil {
		return 0, err
	}

	added, err := d.batchImport(ctx, athlete, d.now(), known)
	if err != nil {
		return added, err
	}

	_, err = d.store.GetPeerSentinel(ctx, athlete)
	if err == nil {
		return added, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return added, err
	}

	first, err := d.store.FirstActivity(ctx, athlete)
	if errors.Is(err, store.ErrNotFound) {
		return added, nil
	}
	if err != nil {
		return added, err
	}
	more, err := d.batchImport(ctx, athlete, time.UnixMilli(first.TS), known)
	return added + more, err
}

func (d *Discoverer) batchImport(ctx context.Context, athlete int64, start time.Time, known map[int64]bool) (int, error) {
	log := logging.Ctx(ctx)
	iter := newMonthIter(start)
	added := 0

	for concurrency := 1; ; concurrency = min(concurrency*2, MaxConcurrency) {
		type month struct{ year, month int }
		months := make([]month, concurrency)
		for i := range months {
			months[i].year, months[i].month = iter.next()
		}

		results := make([][]*models.Activity, len(months))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(MaxConcurrency)
		for i, m := range months {
			g.Go(func() error {
				body, err := d.peer.IntervalFeed(gctx, athlete, m.year, m.month)
				if err != nil {
					return fmt.Errorf("interval feed %d-%02d: %w", m.year, m.month, err)
				}
				acts, err := ParseIntervalFeed(body, athlete, m.year, m.month)
				if err != nil {
					return err
				}
				results[i] = acts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return added, err
		}

		empty, redundant := 0, 0
		var adding []*models.Activity
		for _, batch := range results {
			if len(batch) == 0 {
				empty++
				continue
			}
			foundNew := false
			for _, a := range batch {
				if !known[a.ID] {
					known[a.ID] = true
					adding = append(adding, a)
					foundNew = true
				}
			}
			if !foundNew {
				redundant++
			}
		}

		oldest := months[len(months)-1]
		switch {
		case len(adding) > 0:
			if err := d.store.PutActivities(ctx, adding); err != nil {
				return added, fmt.Errorf("import activities: %w", err)
			}
			added += len(adding)
			log.Info().Int("count", len(adding)).Msg("Found new activities")
		case empty >= minEmpty && empty >= concurrency, oldest.year < earliestYear:
			ts := time.Date(oldest.year, time.Month(oldest.month), 1, 0, 0, 0, 0, time.UTC)
			if err := d.store.PutPeerSentinel(ctx, &models.PeerSentinel{Athlete: athlete, TS: ts.UnixMilli()}); err != nil {
				return added, err
			}
			log.Debug().Time("sentinel", ts).Msg("Peer history scan complete")
			return added, nil
		case redundant >= minRedundant && redundant >= concurrency:
			// The whole round was already known.
			return added, nil
		}
	}
}
