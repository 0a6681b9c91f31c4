// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import (
	"strings"
	"time"
)

// SessionState is the playback state of a live session.
type SessionState string

// Session states. StateStopped is terminal.
const (
	StateUnknown   SessionState = "unknown"
	StatePlaying   SessionState = "playing"
	StatePaused    SessionState = "paused"
	StateBuffering SessionState = "buffering"
	StateStopped   SessionState = "stopped"
)

// ParseSessionState maps Plex state strings, case-insensitively.
func ParseSessionState(s string) SessionState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return StatePlaying
	case "paused":
		return StatePaused
	case "buffering":
		return StateBuffering
	case "stopped":
		return StateStopped
	default:
		return StateUnknown
	}
}

// HealthStatus is the buffer health class of a session.
type HealthStatus string

// Health classes, ordered by increasing risk.
const (
	HealthUnknown  HealthStatus = ""
	HealthHealthy  HealthStatus = "healthy"
	HealthRisky    HealthStatus = "risky"
	HealthCritical HealthStatus = "critical"
)

// AtRisk reports whether the class belongs in buffer_health_update.
func (h HealthStatus) AtRisk() bool {
	return h == HealthRisky || h == HealthCritical
}

// RiskLevel orders classes for sorting: 0 healthy/unknown, 1 risky, 2 critical.
func (h HealthStatus) RiskLevel() int {
	switch h {
	case HealthCritical:
		return 2
	case HealthRisky:
		return 1
	default:
		return 0
	}
}

// BufferHealthSample is the derived, unpersisted health of one session.
// SecondsToStall is nil when the buffer is steady or filling.
type BufferHealthSample struct {
	SessionKey        string       `json:"session_key"`
	Title             string       `json:"title,omitempty"`
	Username          string       `json:"username,omitempty"`
	Player            string       `json:"player,omitempty"`
	BufferFillPercent float64      `json:"buffer_fill_percent"`
	BufferDrainRate   float64      `json:"buffer_drain_rate"`
	HealthStatus      HealthStatus `json:"health_status"`
	RiskLevel         int          `json:"risk_level"`
	SecondsToStall    *float64     `json:"seconds_to_stall,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}

// SessionSnapshot is a read-only copy of a tracked session.
type SessionSnapshot struct {
	SessionKey         string       `json:"session_key"`
	State              SessionState `json:"state"`
	RatingKey          string       `json:"rating_key,omitempty"`
	Title              string       `json:"title,omitempty"`
	Username           string       `json:"username,omitempty"`
	Player             string       `json:"player,omitempty"`
	ViewOffset         int64        `json:"view_offset"`
	MaxOffsetAvailable float64      `json:"max_offset_available"`
	BufferFillPercent  float64      `json:"buffer_fill_percent"`
	BufferDrainRate    float64      `json:"buffer_drain_rate"`
	HealthStatus       HealthStatus `json:"health_status,omitempty"`
	SecondsToStall     *float64     `json:"seconds_to_stall,omitempty"`
	IsNewSession       bool         `json:"is_new_session"`
	StartedAt          time.Time    `json:"started_at"`
	LastUpdatedAt      time.Time    `json:"last_updated_at"`
}
