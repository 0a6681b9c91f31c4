// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package database is the DuckDB data layer for playback history.
//
// # Overview
//
// Playback events are append-only rows in playback_events. The table carries
// two uniqueness guarantees: the UUID primary key and the idempotency key
// (session_key|event_type|timestamp). Inserts use ON CONFLICT DO NOTHING so a
// redelivered or replayed event is a silent no-op that reports inserted=false.
//
// # Reads
//
// History is always ordered started_at DESC, id DESC. Two read paths exist:
//
//   - GetPlaybackEventsAfter: keyset seek on the (started_at, id) tuple,
//     fetching limit+1 rows to detect a further page. Cost does not depend on
//     how deep the caller has paged.
//   - GetPlaybackEventsOffset: legacy LIMIT/OFFSET for older clients.
//
// Both accept a models.PlaybackFilter translated by buildFilterConditions.
//
// # Errors
//
// IsTransient classifies driver errors that a caller may retry: lost
// connections, closed pools and DuckDB transaction conflicts.
//
// # Files
//
//   - database.go: connection lifecycle and pool tuning
//   - schema.go: table and index creation
//   - playback.go: insert and read queries
//   - filter.go: WHERE clause construction
//   - errors.go: error classification and close helpers
package database
