// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/ratelimit"
	syncpkg "github.com/tomtom215/athletesync/internal/sync"
	"github.com/tomtom215/athletesync/internal/validation"
)

// maxJSONBody caps request bodies of the JSON endpoints.
const maxJSONBody = 4 << 20

// RateLimiterStatus reports the tiers of the streams rate limiter group.
type RateLimiterStatus interface {
	Status(ctx context.Context) []ratelimit.TierStatus
}

// HandlerDeps are the collaborators of a Handler. Holder and Limiter are
// optional.
type HandlerDeps struct {
	Service *syncpkg.Service
	Holder  *syncpkg.Holder
	Limiter RateLimiterStatus
	Server  config.ServerConfig
}

// Handler serves the management API.
type Handler struct {
	svc       *syncpkg.Service
	holder    *syncpkg.Holder
	limiter   RateLimiterStatus
	config    config.ServerConfig
	startTime time.Time
}

// NewHandler creates a handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		svc:       deps.Service,
		holder:    deps.Holder,
		limiter:   deps.Limiter,
		config:    deps.Server,
		startTime: time.Now(),
	}
}

// athleteID parses the {id} path parameter.
func athleteID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAthleteID, raw)
	}
	if verr := validation.ValidateVar("id", id, "required,gt=0"); verr != nil {
		return 0, verr
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		NewResponseWriter(w, r).BadRequest("Invalid request body")
		return false
	}
	return true
}

// validateRequest writes a validation error response and returns false when
// v fails its validate tags.
func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		respondServiceError(w, r, verr)
		return false
	}
	return true
}
