// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package middleware provides the HTTP middleware of the realtime API.

All middleware use the chi signature func(http.Handler) http.Handler:

  - RequestID: honours or generates X-Request-ID and seeds the logging context
  - PrometheusMetrics: request counters, latency histogram and in-flight gauge
  - AccessLog: one structured zerolog line per request

The router installs them in this order:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

The response writer wrapper forwards http.Hijacker and http.Flusher so the
WebSocket upgrade on /api/v1/ws keeps working behind the stack.
*/
package middleware
