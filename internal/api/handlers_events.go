// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
handlers_events.go - Per-athlete sync event stream

GET /api/v1/athletes/{id}/events upgrades to a WebSocket and relays the
athlete's sync events (start, stop, progress, enable, disable, error) as JSON
text frames. The read pump only exists to process control frames; when it
fails the subscription context is cancelled and the write pump exits.
*/

//nolint:staticcheck // File documentation, not package doc
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/athletesync/internal/events"
	"github.com/tomtom215/athletesync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts origins listed in the CORS configuration.
// With no configured origins only same-host requests pass.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	if len(h.config.CORSOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, allowed := range h.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// AthleteEvents handles GET /api/v1/athletes/{id}/events.
func (h *Handler) AthleteEvents(w http.ResponseWriter, r *http.Request) {
	id, err := athleteID(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.svc.Controller(id).Subscribe(ctx)
	if err != nil {
		cancel()
		logging.Warn().Err(err).Int64("athlete", id).Msg("Event subscription failed")
		NewResponseWriter(w, r).ServiceUnavailable("event stream unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer cancel()
	logging.Debug().Int64("athlete", id).Msg("Event stream connected")

	go readPump(conn, cancel)
	writePump(ctx, conn, ch)
	logging.Debug().Int64("athlete", id).Msg("Event stream closed")
}

func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, ch <-chan events.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Error().Err(err).Msg("failed to encode sync event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
