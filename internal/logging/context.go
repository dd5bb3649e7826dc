// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	requestIDKey     contextKey = "request_id"
	athleteIDKey     contextKey = "athlete_id"
	jobIDKey         contextKey = "job_id"
	loggerKey        contextKey = "logger"
)

// GenerateCorrelationID returns the first 8 characters of a new UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// GenerateRequestID returns a full UUID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID returns ctx carrying the correlation id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns ctx carrying an HTTP request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSyncJob tags ctx with the athlete and sync job being run so
// every log line emitted below a job can be attributed to it.
func ContextWithSyncJob(ctx context.Context, athleteID int64, jobID string) context.Context {
	ctx = context.WithValue(ctx, athleteIDKey, athleteID)
	return context.WithValue(ctx, jobIDKey, jobID)
}

// SyncJobFromContext returns the athlete id and job id set by ContextWithSyncJob.
func SyncJobFromContext(ctx context.Context) (athleteID int64, jobID string, ok bool) {
	athleteID, ok = ctx.Value(athleteIDKey).(int64)
	if !ok {
		return 0, "", false
	}
	jobID, _ = ctx.Value(jobIDKey).(string)
	return athleteID, jobID, true
}

// ContextWithLogger stores a logger in ctx.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in ctx or the global logger.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with the context's ids attached.
//
//	logging.Ctx(ctx).Info().Msg("Local processing complete")
//	// {"level":"info","athlete_id":42,"job_id":"...","message":"Local processing complete"}
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := LoggerFromContext(ctx)
	lc := logger.With()

	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if athleteID, jobID, ok := SyncJobFromContext(ctx); ok {
		lc = lc.Int64("athlete_id", athleteID)
		if jobID != "" {
			lc = lc.Str("job_id", jobID)
		}
	}

	l := lc.Logger()
	return &l
}
