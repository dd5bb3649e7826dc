// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
errors.go - Service error to HTTP status mapping

Handlers never inspect service errors themselves; they hand them to
respondServiceError which maps the sentinel and typed errors of the sync,
validation and workerpool packages to a status code and error code.
*/

//nolint:staticcheck // File documentation, not package doc
package api

import (
	"context"
	"errors"
	"net/http"

	syncpkg "github.com/tomtom215/athletesync/internal/sync"
	"github.com/tomtom215/athletesync/internal/validation"
	"github.com/tomtom215/athletesync/internal/workerpool"
)

var (
	// ErrInvalidAthleteID is returned for a malformed {id} path parameter.
	ErrInvalidAthleteID = errors.New("invalid athlete id")

	// ErrHolderNotConfigured is returned when the current user cannot be
	// changed because no manager holder is wired.
	ErrHolderNotConfigured = errors.New("sync manager holder not configured")
)

// respondServiceError writes the response for an error returned by the
// sync service.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var verr *validation.RequestValidationError
	var callErr *workerpool.CallError
	switch {
	case errors.As(err, &verr):
		rw.ValidationError(verr.Error(), verr.Fields)
	case errors.As(err, &callErr):
		rw.Error(http.StatusUnprocessableEntity, ErrCodeAnalysisFailed, callErr.Error())
	case errors.Is(err, ErrInvalidAthleteID):
		rw.BadRequest(err.Error())
	case errors.Is(err, syncpkg.ErrAthleteNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, syncpkg.ErrManagerUnavailable),
		errors.Is(err, ErrHolderNotConfigured),
		errors.Is(err, workerpool.ErrPoolClosed):
		rw.ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		rw.Error(http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		return
	default:
		rw.StoreError(err)
	}
}
