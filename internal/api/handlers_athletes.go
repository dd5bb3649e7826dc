// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"net/http"

	syncpkg "github.com/tomtom215/athletesync/internal/sync"
)

// ListAthletes handles GET /api/v1/athletes.
func (h *Handler) ListAthletes(w http.ResponseWriter, r *http.Request) {
	athletes, err := h.svc.ListAthletes(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithCount(athletes, len(athletes))
}

// AddAthlete handles POST /api/v1/athletes. Existing athletes are updated.
func (h *Handler) AddAthlete(w http.ResponseWriter, r *http.Request) {
	var req syncpkg.AddAthleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.AddAthlete(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Created(a)
}

// GetAthlete handles GET /api/v1/athletes/{id}.
func (h *Handler) GetAthlete(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	a, err := h.svc.GetAthlete(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(a)
}

// EnableAthlete handles POST /api/v1/athletes/{id}/enable.
func (h *Handler) EnableAthlete(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.svc.EnableAthlete(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{"athlete": id, "sync": true})
}

// DisableAthlete handles POST /api/v1/athletes/{id}/disable.
func (h *Handler) DisableAthlete(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.svc.DisableAthlete(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{"athlete": id, "sync": false})
}

// CurrentUserRequest changes the athlete the sync manager runs for.
type CurrentUserRequest struct {
	Athlete int64 `json:"athlete" validate:"gte=0"`
}

// GetCurrentUser handles GET /api/v1/session.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if h.holder == nil {
		respondServiceError(w, r, ErrHolderNotConfigured)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"athlete":         h.holder.CurrentUser(),
		"manager_running": h.holder.Current() != nil,
	})
}

// SetCurrentUser handles PUT /api/v1/session. A zero athlete stops the sync
// manager.
func (h *Handler) SetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if h.holder == nil {
		respondServiceError(w, r, ErrHolderNotConfigured)
		return
	}
	var req CurrentUserRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	if err := h.holder.SetCurrentUser(r.Context(), req.Athlete); err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"athlete":         req.Athlete,
		"manager_running": h.holder.Current() != nil,
	})
}
