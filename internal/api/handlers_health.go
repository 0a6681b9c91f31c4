// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// readyTimeout bounds each readiness check.
const readyTimeout = 2 * time.Second

// HealthLive handles the liveness probe. It succeeds while the process can
// serve HTTP, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady handles the readiness probe: 200 when every configured
// dependency check passes, 503 with per-component status otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.deps.Ready))
	for name := range h.deps.Ready {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := h.deps.Ready[name](ctx)
		cancel()
		if err != nil {
			components[name] = "unavailable: " + err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	data := map[string]interface{}{
		"ready":      ready,
		"components": components,
	}
	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status:   "error",
			Data:     data,
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error: &models.APIError{
				Code:    CodeServiceUnavailable,
				Message: "Service is not ready",
			},
		})
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
