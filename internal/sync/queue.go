// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package sync

import (
	"context"
	"sync"

	"github.com/tomtom215/athletesync/internal/models"
)

// Queue is an unbounded FIFO of activities between the pipeline stages.
// A nil entry is the terminal marker.
type Queue struct {
	mu     sync.Mutex
	items  []*models.Activity
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends a without blocking.
func (q *Queue) Put(a *models.Activity) {
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close appends the terminal marker.
func (q *Queue) Close() {
	q.Put(nil)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TryGet removes the head entry. ok is false when the queue is empty.
func (q *Queue) TryGet() (a *models.Activity, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	a = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return a, true
}

// Get removes the head entry, blocking until one is available or ctx ends.
func (q *Queue) Get(ctx context.Context) (*models.Activity, error) {
	for {
		if a, ok := q.TryGet(); ok {
			return a, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
