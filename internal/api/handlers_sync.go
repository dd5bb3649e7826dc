// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"context"
	"net/http"
	"time"
)

// SyncStatus is the sync overview of one athlete.
type SyncStatus struct {
	Athlete             int64      `json:"athlete"`
	Active              bool       `json:"active"`
	ActivitiesCount     int        `json:"activities_count"`
	ActivitiesSynced    int        `json:"activities_synced"`
	LastSync            *time.Time `json:"last_sync,omitempty"`
	NextSync            *time.Time `json:"next_sync,omitempty"`
	RateLimiterSleeping bool       `json:"rate_limiter_sleeping"`
	RateLimiterResumes  *time.Time `json:"rate_limiter_resumes,omitempty"`
}

// InvalidateRequest names the sync target to clear.
type InvalidateRequest struct {
	Target string `json:"target" validate:"required,synctarget"`
}

// SyncStatus handles GET /api/v1/athletes/{id}/sync.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status, err := h.syncStatus(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(status)
}

func (h *Handler) syncStatus(ctx context.Context, id int64) (*SyncStatus, error) {
	if _, err := h.svc.GetAthlete(ctx, id); err != nil {
		return nil, err
	}
	c := h.svc.Controller(id)
	status := &SyncStatus{
		Athlete:             id,
		Active:              c.IsActive(),
		RateLimiterSleeping: c.RateLimiterSleeping(),
	}
	var err error
	if status.ActivitiesCount, err = c.ActivitiesCount(ctx); err != nil {
		return nil, err
	}
	if status.ActivitiesSynced, err = c.ActivitiesSynced(ctx); err != nil {
		return nil, err
	}
	last, err := c.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() {
		status.LastSync = &last
	}
	// Without a running manager there is no refresh interval to project.
	if next, err := c.NextSync(ctx); err == nil && !last.IsZero() {
		status.NextSync = &next
	}
	if resumes, ok := c.RateLimiterResumes(); ok {
		status.RateLimiterResumes = &resumes
	}
	return status, nil
}

// StartSync handles POST /api/v1/athletes/{id}/sync/start.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.svc.Controller(id).Start(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Accepted(map[string]interface{}{"athlete": id})
}

// CancelSync handles POST /api/v1/athletes/{id}/sync/cancel. It waits for
// the running job to stop.
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	cancelled, err := h.svc.Controller(id).Cancel(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{"athlete": id, "cancelled": cancelled})
}

// InvalidateSync handles POST /api/v1/athletes/{id}/sync/invalidate.
func (h *Handler) InvalidateSync(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req InvalidateRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	n, err := h.svc.Controller(id).Invalidate(r.Context(), req.Target)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"athlete":    id,
		"target":     req.Target,
		"activities": n,
	})
}

// RateLimiter handles GET /api/v1/ratelimit.
func (h *Handler) RateLimiter(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		NewResponseWriter(w, r).ServiceUnavailable("rate limiter not configured")
		return
	}
	tiers := h.limiter.Status(r.Context())
	NewResponseWriter(w, r).SuccessWithCount(tiers, len(tiers))
}
