// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import "time"

// WebSocket message types pushed to browser subscribers.
const (
	MessageTypeNewPlayback        = "new_playback"
	MessageTypeRealtimePlayback   = "plex_realtime_playback"
	MessageTypeBufferHealthUpdate = "buffer_health_update"
)

// BufferHealthUpdate is the buffer_health_update payload. Sessions holds only
// risky and critical sessions, most at risk first.
type BufferHealthUpdate struct {
	Sessions      []BufferHealthSample `json:"sessions"`
	CriticalCount int                  `json:"critical_count"`
	RiskyCount    int                  `json:"risky_count"`
	Timestamp     time.Time            `json:"timestamp"`
}

// RealtimePlayback is the plex_realtime_playback payload.
type RealtimePlayback struct {
	SessionKey        string       `json:"session_key"`
	State             SessionState `json:"state"`
	PreviousState     SessionState `json:"previous_state"`
	RatingKey         string       `json:"rating_key,omitempty"`
	ViewOffset        int64        `json:"view_offset"`
	IsBuffering       bool         `json:"is_buffering"`
	IsNewSession      bool         `json:"is_new_session"`
	HealthStatus      HealthStatus `json:"health_status,omitempty"`
	BufferFillPercent float64      `json:"buffer_fill_percent"`
	SecondsToStall    *float64     `json:"seconds_to_stall,omitempty"`
	// EndReason is set only when State is stopped.
	EndReason         string       `json:"end_reason,omitempty"`
}

// End reasons carried by a stopped RealtimePlayback.
const (
	EndReasonStopped = "stopped"
	EndReasonIdle    = "idle_timeout"
)
