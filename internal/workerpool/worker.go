// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package workerpool

import (
	"context"
	"fmt"
	"time"
)

type request struct {
	id   uint64
	call string
	args []any
	ctx  context.Context
}

// response is the only message a worker sends. id 0 is never issued, so a
// zero id marks an invalid message.
type response struct {
	id    uint64
	value any
	err   error
}

// worker is a goroutine that runs one call at a time. It communicates only
// through its channels.
type worker struct {
	id        int
	requests  chan request
	responses chan response
	quit      chan struct{}
	done      chan struct{}

	// Guarded by Pool.mu.
	gcTimer *time.Timer
	dead    bool
}

func newWorker(id int, reg Registry) *worker {
	w := &worker{
		id:        id,
		requests:  make(chan request, 1),
		responses: make(chan response, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run(reg)
	return w
}

func (w *worker) run(reg Registry) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			resp := w.handle(reg, req)
			select {
			case w.responses <- resp:
			case <-w.quit:
				return
			}
		}
	}
}

func (w *worker) handle(reg Registry, req request) (resp response) {
	resp.id = req.id
	fn, ok := reg[req.call]
	if !ok {
		resp.err = &CallError{Call: req.call, Err: ErrUnknownCall}
		return resp
	}
	defer func() {
		if r := recover(); r != nil {
			resp.err = &CallError{Call: req.call, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	value, err := fn(req.ctx, req.args...)
	if err != nil {
		resp.err = &CallError{Call: req.call, Err: err}
		return resp
	}
	resp.value = value
	return resp
}

func (w *worker) terminate() {
	close(w.quit)
}
