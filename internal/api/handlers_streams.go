// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/logging"
)

// maxImportBody caps stream import uploads.
const maxImportBody = 1 << 30

// PeaksRequest asks for the best rolling averages of many activities.
type PeaksRequest struct {
	Inputs  []analysis.PeaksInput `json:"inputs" validate:"required,min=1,max=10000"`
	Periods []int                 `json:"periods" validate:"required,min=1,max=64,dive,gt=0"`
}

// TSSRequest asks for training stress scores of many activities.
type TSSRequest struct {
	Inputs []analysis.TSSInput `json:"inputs" validate:"required,min=1,max=10000"`
}

// ExportStreams handles GET /api/v1/athletes/{id}/streams/export. The body
// is newline delimited JSON, one page of stream records per line.
func (h *Handler) ExportStreams(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if _, err := h.svc.GetAthlete(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"streams-%d.ndjson\"", id))
	if _, err := h.svc.ExportStreams(r.Context(), w, id); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		logging.Error().Err(err).Int64("athlete", id).Msg("Stream export failed")
	}
}

// ImportStreams handles POST /api/v1/streams/import.
func (h *Handler) ImportStreams(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	n, err := h.svc.ImportStreams(r.Context(), body)
	if err != nil {
		logging.Warn().Err(err).Int("records", n).Msg("Stream import failed")
		NewResponseWriter(w, r).ErrorWithDetails(http.StatusBadRequest, ErrCodeBadRequest,
			"stream import failed", map[string]int{"records": n})
		return
	}
	NewResponseWriter(w, r).Success(map[string]int{"records": n})
}

// IncrementStreamsUsage handles POST /api/v1/streams/usage. Clients report
// streams calls they made directly so the shared budget stays accurate.
func (h *Handler) IncrementStreamsUsage(w http.ResponseWriter, r *http.Request) {
	h.svc.IncrementStreamsUsage(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// SelfFTPHistory handles GET /api/v1/self/ftp-history.
func (h *Handler) SelfFTPHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.GetSelfFTPHistory(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to fetch FTP history")
		NewResponseWriter(w, r).Error(http.StatusBadGateway, ErrCodeServiceUnavailable, "ftp history unavailable")
		return
	}
	NewResponseWriter(w, r).SuccessWithCount(history, len(history))
}

// FindPeaks handles POST /api/v1/analysis/peaks.
func (h *Handler) FindPeaks(w http.ResponseWriter, r *http.Request) {
	var req PeaksRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	peaks, err := h.svc.FindPeaks(r.Context(), req.Inputs, req.Periods)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithCount(peaks, len(peaks))
}

// BulkTSS handles POST /api/v1/analysis/tss.
func (h *Handler) BulkTSS(w http.ResponseWriter, r *http.Request) {
	var req TSSRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	res, err := h.svc.BulkTSS(r.Context(), req.Inputs)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithCount(res, len(res))
}
