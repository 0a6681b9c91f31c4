// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package sync keeps the session tracker in step with a live Plex Media Server.

Components:

  - PlexClient: /status/sessions over HTTP with X-Plex-Token auth, a
    request rate limiter, HTTP 429 retry honoring Retry-After, and a
    circuit breaker that opens at 60% failures over at least 10 requests
  - PlexWebSocketClient: the /:/websockets/notifications stream, with
    exponential reconnect backoff from 1s to 32s
  - Monitor: polls sessions on an interval, converts transcode progress
    into buffer samples, stops sessions that left the server, and records
    sessions it sees for the first time as playback events

Buffer fill is derived from the transcoder's buffered range:

	buffer_seconds = (maxOffsetAvailable - viewOffset) / 1000
	fill_percent   = buffer_seconds / buffer_capacity_seconds * 100

Direct play sessions report no buffer range and carry no sample.
*/
package sync
