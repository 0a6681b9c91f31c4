// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package models holds the shared data model of the realtime core: persisted
// playback events, Plex webhook and monitoring payloads, live session
// snapshots, WebSocket message payloads and the API response envelope.
//
// Types here carry no behaviour beyond small normalisation helpers so that
// every other package can depend on them without import cycles.
package models
