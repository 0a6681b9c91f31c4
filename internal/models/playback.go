// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import (
	"time"

	"github.com/google/uuid"
)

// Event sources recorded on PlaybackEvent.Source.
const (
	SourcePlexWebhook  = "plex_webhook"
	SourcePlexPoll     = "plex_poll"
	SourcePlexRealtime = "plex_realtime"
)

// StorageTime reduces t to the precision stored for event timestamps,
// UTC microseconds, so an event announced before storage carries the same
// instant a later read returns.
func StorageTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// PlaybackEvent is one immutable playback start record.
//
// Events are ordered by (StartedAt DESC, ID DESC). ID is a UUIDv7 so that IDs
// minted in the same process sort close to insertion order, which keeps the
// tie-break stable for equal timestamps.
type PlaybackEvent struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	SessionKey string    `json:"session_key"`
	StartedAt  time.Time `json:"started_at"`

	// IdempotencyKey is session_key|event_type|timestamp. Unique in storage.
	IdempotencyKey string `json:"-"`

	UserID   int    `json:"user_id"`
	Username string `json:"username"`

	MediaType        string  `json:"media_type"`
	Title            string  `json:"title"`
	ParentTitle      *string `json:"parent_title,omitempty"`
	GrandparentTitle *string `json:"grandparent_title,omitempty"`
	RatingKey        *string `json:"rating_key,omitempty"`
	Year             *int    `json:"year,omitempty"`

	Platform     string  `json:"platform"`
	Player       string  `json:"player"`
	Product      *string `json:"product,omitempty"`
	MachineID    *string `json:"machine_id,omitempty"`
	IPAddress    string  `json:"ip_address"`
	LocationType string  `json:"location_type"`

	TranscodeDecision *string `json:"transcode_decision,omitempty"`
	VideoDecision     *string `json:"video_decision,omitempty"`
	AudioDecision     *string `json:"audio_decision,omitempty"`

	ServerID  *string   `json:"server_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPlaybackEventID returns a time-ordered UUID, falling back to a random
// one if the v7 generator fails.
func NewPlaybackEventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// LocationTypeFor maps the Plex "local" flag to the stored location type.
func LocationTypeFor(local bool) string {
	if local {
		return "lan"
	}
	return "wan"
}

// PlaybackFilter narrows playback history reads. Zero values mean "no filter".
type PlaybackFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	MediaTypes []string
	Users      []string
	Platforms  []string
}

// IsEmpty reports whether no filter is set.
func (f PlaybackFilter) IsEmpty() bool {
	return f.StartDate == nil && f.EndDate == nil &&
		len(f.MediaTypes) == 0 && len(f.Users) == 0 && len(f.Platforms) == 0
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
