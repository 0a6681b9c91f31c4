// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package websocket fans live playback updates out to browser subscribers.

One goroutine (Hub.RunWithContext) owns the subscriber set. Each subscriber
has a bounded send queue and two goroutines:

  - readPump: reads and discards inbound frames, records pongs
  - writePump: drains the queue in FIFO order and sends pings

A subscriber whose queue overflows is closed with 1008 "slow consumer".
A subscriber that misses two consecutive pongs is closed as well. Neither
affects other subscribers.

Frames are JSON objects:

	{"type": "plex_realtime_playback", "data": {...}, "timestamp": "..."}

Message types:

  - new_playback: a playback event was persisted
  - plex_realtime_playback: a live session changed state or health
  - buffer_health_update: the set of risky and critical sessions changed

Usage:

	hub := websocket.NewHub(websocket.ConfigFrom(cfg.WebSocket))
	go hub.RunWithContext(ctx)

	conn, _ := upgrader.Upgrade(w, r, nil)
	hub.Subscribe(conn)
*/
package websocket
