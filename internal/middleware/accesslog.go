// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// AccessLog writes one log line per request. 5xx responses log at warn,
// everything else at debug so polling clients do not flood the output.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := newResponseWriter(w)

		next.ServeHTTP(wrapper, r)

		level := zerolog.DebugLevel
		if wrapper.statusCode >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		logging.Ctx(r.Context()).WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Int("bytes", wrapper.bytes).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}
