// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires the handler into a chi route tree.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware uses the defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes in order
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // CORS must be global to handle OPTIONS preflight

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/session", router.handler.GetCurrentUser)
		r.Put("/session", router.handler.SetCurrentUser)
		r.Get("/ratelimit", router.handler.RateLimiter)

		r.Route("/athletes", func(r chi.Router) {
			r.Get("/", router.handler.ListAthletes)
			r.Post("/", router.handler.AddAthlete)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", router.handler.GetAthlete)
				r.Post("/enable", router.handler.EnableAthlete)
				r.Post("/disable", router.handler.DisableAthlete)

				r.Get("/sync", router.handler.SyncStatus)
				r.Post("/sync/start", router.handler.StartSync)
				r.Post("/sync/cancel", router.handler.CancelSync)
				r.Post("/sync/invalidate", router.handler.InvalidateSync)

				r.With(chimiddleware.Compress(5, "application/x-ndjson")).Get("/streams/export", router.handler.ExportStreams)
				r.Get("/events", router.handler.AthleteEvents)
			})
		})

		r.Post("/streams/import", router.handler.ImportStreams)
		r.Post("/streams/usage", router.handler.IncrementStreamsUsage)
		r.Get("/self/ftp-history", router.handler.SelfFTPHistory)

		r.Post("/analysis/peaks", router.handler.FindPeaks)
		r.Post("/analysis/tss", router.handler.BulkTSS)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
