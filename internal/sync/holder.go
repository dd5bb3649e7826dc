// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package sync

import (
	"context"
	"sync"

	"github.com/tomtom215/athletesync/internal/logging"
)

// ManagerFactory builds a manager for the given current user.
type ManagerFactory func(currentUser int64) *Manager

// Holder owns the manager of the current user. Changing the user stops the
// old manager, waits for its jobs and starts a new one. It implements
// suture.Service.
type Holder struct {
	factory ManagerFactory

	// switchMu serializes user changes so mu is never held across Join.
	switchMu sync.Mutex

	mu      sync.Mutex
	user    int64
	current *Manager
	ctx     context.Context
}

// NewHolder creates a holder. A non-zero currentUser gets a manager once
// Serve runs.
func NewHolder(factory ManagerFactory, currentUser int64) *Holder {
	return &Holder{factory: factory, user: currentUser}
}

// String implements fmt.Stringer for suture logging.
func (h *Holder) String() string {
	return "sync-holder"
}

// Serve starts the manager for the configured user and blocks until ctx
// ends, then stops and joins it.
func (h *Holder) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	if h.user != 0 && h.current == nil {
		h.startLocked(h.user)
	}
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	m := h.current
	h.current = nil
	h.ctx = nil
	h.mu.Unlock()
	if m != nil {
		m.Stop()
		_ = m.Join(context.Background())
	}
	return ctx.Err()
}

func (h *Holder) startLocked(user int64) {
	m := h.factory(user)
	h.current = m
	m.Start(h.ctx)
}

// Current returns the running manager, or nil.
func (h *Holder) Current() *Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// CurrentUser returns the configured current user.
func (h *Holder) CurrentUser() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.user
}

// SetCurrentUser replaces the manager when the user changes. A zero user
// leaves no manager running. Current returns nil while the old manager's
// jobs drain.
func (h *Holder) SetCurrentUser(ctx context.Context, user int64) error {
	h.switchMu.Lock()
	defer h.switchMu.Unlock()

	h.mu.Lock()
	if user == h.user && (h.current != nil || h.ctx == nil) {
		h.mu.Unlock()
		return nil
	}
	old := h.current
	h.current = nil
	h.user = user
	h.mu.Unlock()

	if old != nil {
		logging.Warn().
			Int64("old_user", old.CurrentUser()).
			Int64("new_user", user).
			Msg("Stopping sync manager due to user change")
		old.Stop()
		if err := old.Join(ctx); err != nil {
			return err
		}
		logging.Debug().Msg("Sync manager stopped")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if user != 0 && h.user == user && h.current == nil && h.ctx != nil {
		h.startLocked(user)
	}
	return nil
}
