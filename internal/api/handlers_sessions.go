// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// Sessions handles GET /api/v1/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Sessions == nil {
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "Session tracking is unavailable", nil)
		return
	}
	respondSuccess(w, h.deps.Sessions.Sessions(), start)
}

// BufferHealth handles GET /api/v1/sessions/buffer-health. It returns what
// the latest buffer_health_update carried, so a reconnecting client can
// resync without a replay.
func (h *Handler) BufferHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Sessions == nil {
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "Session tracking is unavailable", nil)
		return
	}
	respondSuccess(w, h.deps.Sessions.AtRisk(), start)
}

// WebSocket handles GET /api/v1/ws. The hub owns the connection after
// Subscribe.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	if id := h.deps.Hub.Subscribe(conn); id == 0 {
		logging.Debug().Msg("WebSocket subscriber refused: hub stopped")
	}
}
