// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package api provides the HTTP layer of the realtime core.

Endpoints:

  - POST /api/v1/plex/webhook: signed Plex webhooks (JSON or multipart)
  - GET /api/v1/playbacks: playback history, cursor or legacy offset paging
  - GET /api/v1/sessions: live session snapshots
  - GET /api/v1/sessions/buffer-health: the current at-risk set
  - GET /api/v1/ws: WebSocket subscription to realtime messages
  - GET /api/v1/health/live, /api/v1/health/ready: probes
  - GET /metrics: Prometheus exposition

Every JSON response uses the models.APIResponse envelope. Errors carry a
machine-readable code:

	{"status":"error","data":null,"error":{"code":"INVALID_SIGNATURE","message":"..."}}

The router is chi with go-chi/cors and go-chi/httprate. Requests over the
rate limit get 429 RATE_LIMITED before reaching a handler.
*/
package api
