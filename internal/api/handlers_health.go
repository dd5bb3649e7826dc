// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status         string    `json:"status"`
	CurrentUser    int64     `json:"current_user"`
	ManagerRunning bool      `json:"manager_running"`
	ActiveJobs     []int64   `json:"active_jobs"`
	Uptime         float64   `json:"uptime_seconds"`
	Time           time.Time `json:"time"`
}

// HealthLive handles GET /api/v1/health/live. It only proves the process
// serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /api/v1/health/ready. The service is ready once
// the store answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.ListAthletes(r.Context()); err != nil {
		NewResponseWriter(w, r).ServiceUnavailable("store not ready")
		return
	}
	NewResponseWriter(w, r).Success(map[string]string{"status": "ready"})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:     "healthy",
		ActiveJobs: []int64{},
		Uptime:     time.Since(h.startTime).Seconds(),
		Time:       time.Now(),
	}
	if h.holder != nil {
		health.CurrentUser = h.holder.CurrentUser()
		if m := h.holder.Current(); m != nil {
			health.ManagerRunning = true
			health.ActiveJobs = m.ActiveAthletes()
		}
	}
	if health.CurrentUser != 0 && !health.ManagerRunning {
		health.Status = "degraded"
	}
	NewResponseWriter(w, r).Success(health)
}
