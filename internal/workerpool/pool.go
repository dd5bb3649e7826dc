// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
pool.go - Analysis Worker Pool

Runs named CPU-bound functions on a bounded set of persistent worker
goroutines, reused across calls.

Acquisition:
  - An idle worker is reused when available (oldest first)
  - Otherwise a new worker is started while fewer than MaxWorkers are busy
  - Otherwise the caller blocks until a worker is released or its context
    ends

Correlation:

Every call gets a unique id. A worker whose previous caller gave up may
still deliver that call's result later; the next caller on the worker
discards replies that carry another id.

Idle Recycling:

A released worker starts an idle timer. If nobody takes it before the timer
fires it is marked dead and terminated. A worker being acquired while its
timer fires is skipped.
*/

//nolint:staticcheck // File documentation, not package doc
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
)

// DefaultIdleTimeout is how long an unused worker lives.
const DefaultIdleTimeout = 30 * time.Second

// Pool is a capped pool of persistent workers.
type Pool struct {
	reg         Registry
	maxWorkers  int
	idleTimeout time.Duration
	callTimeout time.Duration

	nextID atomic.Uint64

	mu         sync.Mutex
	idle       []*worker
	waiters    []chan *worker
	busy       int
	spawned    int
	terminated int
	closed     bool
}

// Stats is a snapshot of the pool.
type Stats struct {
	MaxWorkers int `json:"max_workers"`
	Busy       int `json:"busy"`
	Idle       int `json:"idle"`
	Spawned    int `json:"spawned"`
	Terminated int `json:"terminated"`
}

// New creates a pool running functions from reg.
func New(cfg config.WorkerPoolConfig, reg Registry) *Pool {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 2
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Pool{
		reg:         reg,
		maxWorkers:  maxWorkers,
		idleTimeout: idleTimeout,
		callTimeout: cfg.CallTimeout,
	}
}

// Exec runs call on a worker and returns its result. Failures inside the
// function are returned as *CallError.
func (p *Pool) Exec(ctx context.Context, call string, args ...any) (any, error) {
	start := time.Now()
	value, err := p.exec(ctx, call, args...)

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.WorkerPoolCalls.WithLabelValues(call, result).Inc()
	metrics.WorkerPoolCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	return value, err
}

func (p *Pool) exec(ctx context.Context, call string, args ...any) (any, error) {
	id := p.nextID.Add(1)
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	select {
	case w.requests <- request{id: id, call: call, args: args, ctx: ctx}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case resp := <-w.responses:
			switch {
			case resp.id == 0:
				return nil, ErrInvalidMessage
			case resp.id != id:
				logging.Warn().Uint64("call_id", id).Uint64("reply_id", resp.id).
					Int("worker", w.id).Msg("Ignoring worker message from other call")
				continue
			}
			return resp.value, resp.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// acquire returns a worker reserved for the caller.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		if !w.gcTimer.Stop() {
			// The idle timer already fired and will terminate w.
			continue
		}
		p.busy++
		p.updateGauges()
		p.mu.Unlock()
		return w, nil
	}
	if p.busy < p.maxWorkers {
		p.busy++
		p.spawned++
		w := newWorker(p.spawned, p.reg)
		p.updateGauges()
		p.mu.Unlock()
		return w, nil
	}

	ch := make(chan *worker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()
	logging.Warn().Int("max_workers", p.maxWorkers).Msg("Waiting for available worker")

	select {
	case w := <-ch:
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, c := range p.waiters {
			if c == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		// A release may have handed over a worker before we left the list.
		select {
		case w := <-ch:
			p.release(w)
		default:
		}
		return nil, ctx.Err()
	}
}

// release hands w to the oldest waiter or returns it to the idle set with
// a fresh idle timer.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		ch <- w
		return
	}

	p.busy--
	if p.closed {
		p.terminateLocked(w)
		p.updateGauges()
		return
	}
	w.gcTimer = time.AfterFunc(p.idleTimeout, func() { p.collect(w) })
	p.idle = append(p.idle, w)
	p.updateGauges()
}

// collect terminates an idle worker whose timer fired.
func (p *Pool) collect(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.idle {
		if x == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.terminateLocked(w)
	p.updateGauges()
	logging.Debug().Int("worker", w.id).Msg("Terminated idle worker")
}

func (p *Pool) terminateLocked(w *worker) {
	if w.dead {
		return
	}
	w.dead = true
	w.terminate()
	p.terminated++
}

func (p *Pool) updateGauges() {
	metrics.WorkerPoolWorkers.WithLabelValues("busy").Set(float64(p.busy))
	metrics.WorkerPoolWorkers.WithLabelValues("idle").Set(float64(len(p.idle)))
}

// Stats returns a snapshot of worker counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxWorkers: p.maxWorkers,
		Busy:       p.busy,
		Idle:       len(p.idle),
		Spawned:    p.spawned,
		Terminated: p.terminated,
	}
}

// Close terminates idle workers. Busy workers are terminated when their
// call returns. Waiters are not woken; their contexts end them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, w := range p.idle {
		w.gcTimer.Stop()
		p.terminateLocked(w)
	}
	p.idle = nil
	p.updateGauges()
}
