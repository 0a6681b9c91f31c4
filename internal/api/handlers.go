// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/ingest"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/pagination"
)

// WebhookProcessor applies verified webhooks.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, hook *models.PlexWebhook, raw []byte) (ingest.WebhookResult, error)
}

// PlaybackPager reads playback history.
type PlaybackPager interface {
	Page(ctx context.Context, cursor string, limit int, filter models.PlaybackFilter) (*pagination.Page, error)
	Offset(ctx context.Context, limit, offset int, filter models.PlaybackFilter) ([]models.PlaybackEvent, error)
}

// SessionView exposes live session state.
type SessionView interface {
	Sessions() []models.SessionSnapshot
	AtRisk() models.BufferHealthUpdate
}

// Subscriber registers WebSocket connections with the hub.
type Subscriber interface {
	Subscribe(conn *websocket.Conn) uint64
}

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Dependencies are the collaborators of Handler. Nil members disable the
// endpoints that need them.
type Dependencies struct {
	Webhooks  WebhookProcessor
	Playbacks PlaybackPager
	Sessions  SessionView
	Hub       Subscriber
	// Ready checks run by /health/ready, keyed by component name.
	Ready map[string]Checker
}

// Handler serves the API endpoints.
type Handler struct {
	config    *config.Config
	deps      Dependencies
	startTime time.Time
	upgrader  websocket.Upgrader
}

// NewHandler creates a handler. It logs once when webhooks are accepted
// without signature verification.
func NewHandler(cfg *config.Config, deps Dependencies) *Handler {
	h := &Handler{
		config:    cfg,
		deps:      deps,
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	if cfg.Plex.WebhooksEnabled && cfg.Plex.WebhookSecret == "" {
		logging.Warn().Msg("Plex webhook secret not set: accepting unsigned webhooks (reduced-trust mode)")
	}
	return h
}

// checkWebSocketOrigin accepts non-browser clients, same-host pages and the
// configured CORS origins.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", logging.SanitizeValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
