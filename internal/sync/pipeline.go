// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
pipeline.go - Streams fetch and local processing stages

SyncData splits an athlete's activities into those missing streams and
those whose streams are current but whose local processing is not. The
first set is fetched one activity at a time behind the rate limiter group
and each fetched activity is queued for local processing right away. The
second set is queued up front.

The local stage drains the queue in batches, groups activities by the
manifest entry that is due for them and runs that entry's processor once
per group. It repeats until nothing in the batch has a due entry, so a
freshly fetched activity can pass through every processor version in a
single run.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/manifest"
	"github.com/tomtom215/athletesync/internal/metrics"
	"github.com/tomtom215/athletesync/internal/models"
	"github.com/tomtom215/athletesync/internal/remote"
)

// DefaultBatchSize caps how many queued activities the local stage takes
// at once.
const DefaultBatchSize = 1000

// DefaultThrottleDelay is multiplied by the attempt number after the
// remote service throttles a streams request.
const DefaultThrottleDelay = 60 * time.Second

// Store is the persistence used by the pipeline.
type Store interface {
	AllActivityIDs(ctx context.Context, athlete int64) ([]int64, error)
	ActivityIDsWithSyncVersion(ctx context.Context, athlete int64, target string, version int) ([]int64, error)
	ActivityIDsWithSyncLatest(ctx context.Context, athlete int64, target string, latest int) ([]int64, error)
	GetActivities(ctx context.Context, ids []int64) ([]*models.Activity, error)
	SaveActivities(ctx context.Context, acts []*models.Activity) error
	PutStreams(ctx context.Context, recs []models.StreamRecord) error
	UpdateAthlete(ctx context.Context, id int64, fn func(*models.Athlete) error) (*models.Athlete, error)
}

// StreamsSource fetches the raw streams of one activity.
type StreamsSource interface {
	FetchStreams(ctx context.Context, activityID int64, names []string) (map[string]json.RawMessage, error)
}

// Waiter gates remote calls. Wait records the call it admits.
type Waiter interface {
	Wait(ctx context.Context) error
}

// StreamsResult is the outcome of one streams fetch.
type StreamsResult struct {
	Activity *models.Activity
	// Found is false when the activity no longer exists remotely.
	Found bool
	Err   error
}

// LocalResult reports local processing progress. Both sets are cumulative
// over the run.
type LocalResult struct {
	Complete   []*models.Activity
	Incomplete []*models.Activity
}

// SyncOptions carries the callbacks of one SyncData call.
type SyncOptions struct {
	OnStreams         func(StreamsResult)
	OnLocalProcessing func(LocalResult)

	// SaveAthlete persists a processor's athlete change and returns the
	// stored athlete. When nil the store is updated directly.
	SaveAthlete func(ctx context.Context, fn func(*models.Athlete)) (*models.Athlete, error)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStreamsManifest replaces the default streams manifest.
func WithStreamsManifest(m *manifest.Streams) PipelineOption {
	return func(p *Pipeline) { p.streams = m }
}

// WithBatchSize sets the local stage batch cap.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithThrottleDelay sets the base delay after a throttled fetch.
func WithThrottleDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.throttleBase = d
		}
	}
}

// Pipeline runs the streams fetch and local processing stages.
type Pipeline struct {
	store        Store
	remote       StreamsSource
	limiter      Waiter
	streams      *manifest.Streams
	local        *manifest.Local
	streamNames  []string
	batchSize    int
	throttleBase time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewPipeline creates a pipeline processing activities with the local
// manifest.
func NewPipeline(st Store, src StreamsSource, limiter Waiter, local *manifest.Local, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:        st,
		remote:       src,
		limiter:      limiter,
		streams:      manifest.DefaultStreams(),
		local:        local,
		batchSize:    DefaultBatchSize,
		throttleBase: DefaultThrottleDelay,
		now:          time.Now,
		after:        time.After,
	}
	for _, opt := range opts {
		opt(p)
	}
	seen := make(map[string]bool)
	for _, e := range p.streams.Entries() {
		for _, name := range e.Data {
			if !seen[name] {
				seen[name] = true
				p.streamNames = append(p.streamNames, name)
			}
		}
	}
	return p
}

// LocalManifest returns the manifest of the local stage.
func (p *Pipeline) LocalManifest() *manifest.Local {
	return p.local
}

// StreamsManifest returns the manifest of the fetch stage.
func (p *Pipeline) StreamsManifest() *manifest.Streams {
	return p.streams
}

// SyncData fetches missing streams and runs due local processors for the
// athlete's activities. It returns ctx.Err() when cancelled; everything
// processed up to that point is already persisted. athlete is not modified.
func (p *Pipeline) SyncData(ctx context.Context, athlete *models.Athlete, opts SyncOptions) error {
	id := athlete.ID
	// Only the local stage reads or replaces this copy.
	local := *athlete
	fetched, err := idSet(func() ([]int64, error) {
		return p.store.ActivityIDsWithSyncLatest(ctx, id, models.TargetStreams, p.streams.Latest())
	})
	if err != nil {
		return fmt.Errorf("load fetched ids: %w", err)
	}
	noStreams, err := idSet(func() ([]int64, error) {
		return p.store.ActivityIDsWithSyncVersion(ctx, id, models.TargetStreams, models.VersionNever)
	})
	if err != nil {
		return fmt.Errorf("load ids without streams: %w", err)
	}
	processed, err := idSet(func() ([]int64, error) {
		return p.store.ActivityIDsWithSyncLatest(ctx, id, models.TargetLocal, p.local.Latest())
	})
	if err != nil {
		return fmt.Errorf("load processed ids: %w", err)
	}
	all, err := p.store.AllActivityIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("load activity ids: %w", err)
	}

	var wanted []int64
	for _, aid := range all {
		if noStreams[aid] || (fetched[aid] && processed[aid]) {
			continue
		}
		wanted = append(wanted, aid)
	}
	acts, err := p.store.GetActivities(ctx, wanted)
	if err != nil {
		return fmt.Errorf("load activities: %w", err)
	}

	now := p.now()
	q := NewQueue()
	var unfetched []*models.Activity
	for _, a := range acts {
		if !fetched[a.ID] {
			if p.streams.NextSync(a, now) == nil {
				logging.Debug().Int64("activity", a.ID).Msg("Deferring streams fetch due to recent error")
				continue
			}
			unfetched = append(unfetched, a)
			continue
		}
		if p.local.NextSync(a, now) == nil {
			logging.Debug().Int64("activity", a.ID).Msg("Deferring local processing due to recent error")
			continue
		}
		q.Put(a)
	}

	if len(unfetched) == 0 {
		if q.Len() == 0 {
			logging.Debug().Int64("athlete", id).Msg("No activity sync required")
			return nil
		}
		q.Close()
		return p.localWorker(ctx, q, &local, opts)
	}

	// A failing stage cancels the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.fetchWorker(gctx, q, id, unfetched, opts) })
	g.Go(func() error { return p.localWorker(gctx, q, &local, opts) })
	if err := g.Wait(); err != nil {
		return err
	}
	logging.Debug().Int64("athlete", id).Msg("Activity sync completed")
	return nil
}

func idSet(load func() ([]int64, error)) (map[int64]bool, error) {
	ids, err := load()
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// fetchStreams returns the streams of a, retrying the same activity after
// a throttled response.
func (p *Pipeline) fetchStreams(ctx context.Context, a *models.Activity) (map[string]json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		data, err := p.remote.FetchStreams(ctx, a.ID, p.streamNames)
		if err == nil || !remote.IsThrottled(err) {
			return data, err
		}
		delay := p.throttleBase * time.Duration(attempt)
		metrics.StreamsFetches.WithLabelValues("throttled").Inc()
		logging.Warn().
			Int64("activity", a.ID).
			Dur("delay", delay).
			Msg("Hit throttle limits, delaying next request")
		select {
		case <-p.after(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		logging.Info().Msg("Resuming after throttle period")
	}
}

// fetchWorker always terminates the queue so the local stage finishes.
func (p *Pipeline) fetchWorker(ctx context.Context, q *Queue, athleteID int64, acts []*models.Activity, opts SyncOptions) error {
	defer q.Close()

	for _, a := range acts {
		data, err := p.fetchStreams(ctx, a)
		if ctx.Err() != nil {
			logging.Info().Int64("athlete", athleteID).Msg("Sync streams cancelled")
			return ctx.Err()
		}

		res := StreamsResult{Activity: a, Err: err}
		var queue bool
		switch {
		case err == nil:
			recs := make([]models.StreamRecord, 0, len(data))
			for name, raw := range data {
				recs = append(recs, models.StreamRecord{
					Activity: a.ID,
					Athlete:  athleteID,
					Stream:   name,
					Data:     raw,
				})
			}
			if err := p.store.PutStreams(ctx, recs); err != nil {
				return fmt.Errorf("store streams for activity %d: %w", a.ID, err)
			}
			p.streams.SetLatest(a)
			res.Found = true
			queue = true
			metrics.StreamsFetches.WithLabelValues("ok").Inc()
		case remote.IsNotFound(err):
			p.streams.SetNever(a)
			res.Err = nil
			metrics.StreamsFetches.WithLabelValues("not_found").Inc()
		default:
			logging.Warn().Err(err).Int64("activity", a.ID).Msg("Fetch streams error (will retry later)")
			p.streams.SetError(a, err, p.now())
			metrics.StreamsFetches.WithLabelValues("error").Inc()
		}

		if err := p.store.SaveActivities(ctx, []*models.Activity{a}); err != nil {
			return fmt.Errorf("save activity %d: %w", a.ID, err)
		}
		if queue {
			q.Put(a)
		}
		if opts.OnStreams != nil {
			opts.OnStreams(res)
		}
	}
	logging.Info().Int64("athlete", athleteID).Int("activities", len(acts)).Msg("Completed streams fetch")
	return nil
}

// localWorker owns athlete for the duration of the run.
func (p *Pipeline) localWorker(ctx context.Context, q *Queue, athlete *models.Athlete, opts SyncOptions) error {
	complete := make(map[int64]*models.Activity)
	incomplete := make(map[int64]*models.Activity)
	done := false

	for !done && ctx.Err() == nil {
		var batch []*models.Activity
		for len(batch) < p.batchSize {
			a, ok := q.TryGet()
			if !ok {
				break
			}
			if a == nil {
				done = true
				break
			}
			batch = append(batch, a)
		}
		if len(batch) == 0 && !done {
			// Wait for single items coming off the fetch stage.
			a, err := q.Get(ctx)
			if err != nil {
				break
			}
			if a == nil {
				done = true
			} else {
				batch = append(batch, a)
			}
		}

		for len(batch) > 0 && ctx.Err() == nil {
			now := p.now()
			groups := make(map[int][]*models.Activity)
			entries := make(map[int]*manifest.Entry[manifest.Processor])
			pending := batch[:0]
			for _, a := range batch {
				e := p.local.NextSync(a, now)
				if e == nil {
					if p.local.ActivityIsLatest(a) {
						complete[a.ID] = a
						delete(incomplete, a.ID)
					} else {
						logging.Debug().Int64("activity", a.ID).Msg("Deferring local processing due to recent error")
						incomplete[a.ID] = a
					}
					continue
				}
				groups[e.Version] = append(groups[e.Version], a)
				entries[e.Version] = e
				pending = append(pending, a)
			}
			batch = pending

			versions := make([]int, 0, len(groups))
			for v := range groups {
				versions = append(versions, v)
			}
			slices.Sort(versions)
			for _, v := range versions {
				if err := p.runProcessor(ctx, athlete, entries[v], groups[v], opts); err != nil {
					return err
				}
			}
		}

		if len(complete)+len(incomplete) > 0 && opts.OnLocalProcessing != nil {
			opts.OnLocalProcessing(LocalResult{
				Complete:   sortedActivities(complete),
				Incomplete: sortedActivities(incomplete),
			})
		}
	}
	return ctx.Err()
}

func (p *Pipeline) runProcessor(ctx context.Context, athlete *models.Athlete, e *manifest.Entry[manifest.Processor], acts []*models.Activity, opts SyncOptions) error {
	start := time.Now()
	name := processorName(e.Data)
	for _, a := range acts {
		a.ClearSyncError(models.TargetLocal)
	}

	b := &manifest.Batch{
		Athlete:     athlete,
		Activities:  acts,
		Version:     e.Version,
		Now:         p.now(),
		SaveAthlete: p.athleteSaver(athlete, opts),
	}
	logging.Debug().
		Str("processor", name).
		Int("version", e.Version).
		Int("activities", len(acts)).
		Msg("Local processing")

	if err := callProcessor(ctx, e.Data, b); err != nil {
		logging.Warn().Err(err).
			Str("processor", name).
			Int("version", e.Version).
			Msg("Top level local processing error")
		for _, a := range acts {
			b.Fail(a, err)
		}
	}

	failed := 0
	for _, a := range acts {
		if a.HasSyncError(models.TargetLocal) {
			failed++
			continue
		}
		a.SetSyncVersion(models.TargetLocal, e.Version)
	}
	if err := p.store.SaveActivities(ctx, acts); err != nil {
		return fmt.Errorf("save processed activities: %w", err)
	}

	elapsed := time.Since(start)
	metrics.RecordLocalProcessing(name, e.Version, elapsed, len(acts), failed)
	logging.Info().
		Str("processor", name).
		Int("activities", len(acts)).
		Int("failed", failed).
		Dur("per_activity", elapsed/time.Duration(len(acts))).
		Msg("Local processing finished")
	return nil
}

func (p *Pipeline) athleteSaver(athlete *models.Athlete, opts SyncOptions) func(context.Context, func(*models.Athlete)) error {
	save := opts.SaveAthlete
	if save == nil {
		id := athlete.ID
		save = func(ctx context.Context, fn func(*models.Athlete)) (*models.Athlete, error) {
			return p.store.UpdateAthlete(ctx, id, func(a *models.Athlete) error {
				fn(a)
				return nil
			})
		}
	}
	return func(ctx context.Context, fn func(*models.Athlete)) error {
		updated, err := save(ctx, fn)
		if err != nil {
			return err
		}
		*athlete = *updated
		return nil
	}
}

// callProcessor converts a processor panic into an error.
func callProcessor(ctx context.Context, fn manifest.Processor, b *manifest.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, b)
}

// processorName returns the short name of a processor function, such as
// ActiveStream for a method value of *processors.Processors.
func processorName(fn manifest.Processor) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "unknown"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

func sortedActivities(m map[int64]*models.Activity) []*models.Activity {
	out := make([]*models.Activity, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *models.Activity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
