// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookEventType is the Plex webhook "event" field.
//
// The set below is closed for dispatch purposes, but any other value is still
// a valid WebhookEventType: it classifies as WebhookKindUnknown and is passed
// through untouched.
type WebhookEventType string

// Known Plex webhook events.
const (
	EventMediaPlay              WebhookEventType = "media.play"
	EventMediaPause             WebhookEventType = "media.pause"
	EventMediaResume            WebhookEventType = "media.resume"
	EventMediaStop              WebhookEventType = "media.stop"
	EventMediaScrobble          WebhookEventType = "media.scrobble"
	EventMediaRate              WebhookEventType = "media.rate"
	EventLibraryNew             WebhookEventType = "library.new"
	EventLibraryOnDeck          WebhookEventType = "library.on.deck"
	EventAdminDatabaseBackup    WebhookEventType = "admin.database.backup"
	EventAdminDatabaseCorrupted WebhookEventType = "admin.database.corrupted"
	EventDeviceNew              WebhookEventType = "device.new"
	EventPlaybackStarted        WebhookEventType = "playback.started"
)

var knownWebhookEvents = map[WebhookEventType]WebhookKind{
	EventMediaPlay:              WebhookKindMedia,
	EventMediaPause:             WebhookKindMedia,
	EventMediaResume:            WebhookKindMedia,
	EventMediaStop:              WebhookKindMedia,
	EventMediaScrobble:          WebhookKindMedia,
	EventMediaRate:              WebhookKindMedia,
	EventPlaybackStarted:        WebhookKindMedia,
	EventLibraryNew:             WebhookKindLibrary,
	EventLibraryOnDeck:          WebhookKindLibrary,
	EventAdminDatabaseBackup:    WebhookKindAdmin,
	EventAdminDatabaseCorrupted: WebhookKindAdmin,
	EventDeviceNew:              WebhookKindDevice,
}

// WebhookKind groups webhook events by what they affect.
type WebhookKind int

// Webhook kinds.
const (
	WebhookKindUnknown WebhookKind = iota
	WebhookKindMedia
	WebhookKindLibrary
	WebhookKindAdmin
	WebhookKindDevice
)

func (k WebhookKind) String() string {
	switch k {
	case WebhookKindMedia:
		return "media"
	case WebhookKindLibrary:
		return "library"
	case WebhookKindAdmin:
		return "admin"
	case WebhookKindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Kind classifies the event. Unknown strings return WebhookKindUnknown.
func (e WebhookEventType) Kind() WebhookKind {
	return knownWebhookEvents[e]
}

// Known reports whether e is one of the enumerated Plex events.
func (e WebhookEventType) Known() bool {
	_, ok := knownWebhookEvents[e]
	return ok
}

// SessionAction is the effect a webhook has on a tracked session.
type SessionAction int

// Session actions derived from webhook events.
const (
	ActionNone SessionAction = iota
	ActionPlay
	ActionPause
	ActionResume
	ActionStop
)

// SessionAction maps the webhook event to a session state change.
func (e WebhookEventType) SessionAction() SessionAction {
	switch e {
	case EventMediaPlay, EventPlaybackStarted:
		return ActionPlay
	case EventMediaPause:
		return ActionPause
	case EventMediaResume:
		return ActionResume
	case EventMediaStop:
		return ActionStop
	default:
		return ActionNone
	}
}

// StartsPlayback reports whether the event records a new PlaybackEvent.
func (e WebhookEventType) StartsPlayback() bool {
	return e.SessionAction() == ActionPlay
}

// PlexWebhook is the JSON payload Plex Media Server posts to webhook URLs.
// See https://support.plex.tv/articles/115002267687-webhooks/
//
// Timestamp and SessionKey are not sent by Plex itself; relays that forward
// Plex webhooks may add them and they take precedence when present.
type PlexWebhook struct {
	Event      WebhookEventType     `json:"event"`
	User       bool                 `json:"user"`
	Owner      bool                 `json:"owner"`
	Account    PlexWebhookAccount   `json:"Account"`
	Server     PlexWebhookServer    `json:"Server"`
	Player     PlexWebhookPlayer    `json:"Player"`
	Metadata   *PlexWebhookMetadata `json:"Metadata,omitempty"`
	Rating     *float64             `json:"rating,omitempty"`
	Timestamp  *int64               `json:"timestamp,omitempty"`
	SessionKey string               `json:"sessionKey,omitempty"`
}

// PlexWebhookAccount is the account that triggered the event.
type PlexWebhookAccount struct {
	ID    int    `json:"id"`
	Thumb string `json:"thumb"`
	Title string `json:"title"`
}

// PlexWebhookServer identifies the Plex server.
type PlexWebhookServer struct {
	Title string `json:"title"`
	UUID  string `json:"uuid"`
}

// PlexWebhookPlayer is the client device.
type PlexWebhookPlayer struct {
	Local         bool   `json:"local"`
	PublicAddress string `json:"publicAddress"`
	Title         string `json:"title"`
	UUID          string `json:"uuid"`
}

// PlexWebhookMetadata describes the media item. Present for media events.
type PlexWebhookMetadata struct {
	LibrarySectionType   string `json:"librarySectionType"`
	RatingKey            string `json:"ratingKey"`
	Key                  string `json:"key"`
	ParentRatingKey      string `json:"parentRatingKey"`
	GrandparentRatingKey string `json:"grandparentRatingKey"`
	GUID                 string `json:"guid"`
	LibrarySectionTitle  string `json:"librarySectionTitle"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	GrandparentTitle     string `json:"grandparentTitle"`
	ParentTitle          string `json:"parentTitle"`
	Index                int    `json:"index"`
	ParentIndex          int    `json:"parentIndex"`
	Year                 int    `json:"year"`
	ViewOffset           int64  `json:"viewOffset"`
	ViewCount            int    `json:"viewCount"`
	LastViewedAt         int64  `json:"lastViewedAt"`
	AddedAt              int64  `json:"addedAt"`
	UpdatedAt            int64  `json:"updatedAt"`
}

// CanonicalSessionKey builds the key shared by webhook, notification and poll
// sources: "<player id>:<rating key>". Plex only exposes its numeric session
// key on the monitoring endpoints, so this is the one identity all three
// sources can derive. fallback is used when either part is missing.
func CanonicalSessionKey(playerID, ratingKey, fallback string) string {
	if playerID == "" || ratingKey == "" {
		return fallback
	}
	return playerID + ":" + ratingKey
}

// CanonicalSessionKey returns the tracker key for this webhook.
func (w *PlexWebhook) CanonicalSessionKey() string {
	if w.SessionKey != "" {
		return w.SessionKey
	}
	ratingKey := ""
	if w.Metadata != nil {
		ratingKey = w.Metadata.RatingKey
	}
	return CanonicalSessionKey(w.Player.UUID, ratingKey, w.Player.UUID)
}

// IdempotencyKey returns session_key|event_type|timestamp. When the payload
// has no timestamp, digest (a hash of the raw body) stands in for it so that
// an identical redelivery still collapses onto the same key.
func (w *PlexWebhook) IdempotencyKey(digest string) string {
	ts := digest
	if w.Timestamp != nil {
		ts = strconv.FormatInt(*w.Timestamp, 10)
	}
	return w.CanonicalSessionKey() + "|" + string(w.Event) + "|" + ts
}

// OccurredAt returns the event time carried by the payload, or now.
func (w *PlexWebhook) OccurredAt(now time.Time) time.Time {
	if w.Timestamp != nil && *w.Timestamp > 0 {
		return time.Unix(*w.Timestamp, 0).UTC()
	}
	return now.UTC()
}

// GetUsername returns the account title.
func (w *PlexWebhook) GetUsername() string {
	return w.Account.Title
}

// GetContentTitle returns a display title. Episodes render as
// "Show - S01E05 - Title", tracks as "Artist - Title".
func (w *PlexWebhook) GetContentTitle() string {
	if w.Metadata == nil {
		return ""
	}
	m := w.Metadata
	switch {
	case m.Type == "episode" && m.GrandparentTitle != "":
		return fmt.Sprintf("%s - S%02dE%02d - %s", m.GrandparentTitle, m.ParentIndex, m.Index, m.Title)
	case m.Type == "track" && m.GrandparentTitle != "":
		return m.GrandparentTitle + " - " + m.Title
	default:
		return m.Title
	}
}

// MediaType returns the normalized media type: movie, episode, track, or the
// raw Plex type for anything else.
func (w *PlexWebhook) MediaType() string {
	if w.Metadata == nil {
		return ""
	}
	t := strings.ToLower(w.Metadata.Type)
	if t == "" {
		switch strings.ToLower(w.Metadata.LibrarySectionType) {
		case "show":
			return "episode"
		case "artist":
			return "track"
		}
		return strings.ToLower(w.Metadata.LibrarySectionType)
	}
	return t
}

// ToPlaybackEvent normalizes a play webhook into a PlaybackEvent. Returns nil
// when the webhook carries no media metadata.
func (w *PlexWebhook) ToPlaybackEvent(idempotencyKey string, now time.Time) *PlaybackEvent {
	if w.Metadata == nil {
		return nil
	}
	m := w.Metadata

	event := &PlaybackEvent{
		ID:             NewPlaybackEventID(),
		Source:         SourcePlexWebhook,
		SessionKey:     w.CanonicalSessionKey(),
		StartedAt:      StorageTime(w.OccurredAt(now)),
		IdempotencyKey: idempotencyKey,
		UserID:         w.Account.ID,
		Username:       w.Account.Title,
		MediaType:      w.MediaType(),
		Title:          m.Title,
		RatingKey:      StringPtr(m.RatingKey),
		Player:         w.Player.Title,
		MachineID:      StringPtr(w.Player.UUID),
		IPAddress:      w.Player.PublicAddress,
		LocationType:   LocationTypeFor(w.Player.Local),
		ServerID:       StringPtr(w.Server.UUID),
		CreatedAt:      StorageTime(now),
	}
	if m.Year > 0 {
		year := m.Year
		event.Year = &year
	}

	// Only episodes and tracks have a meaningful hierarchy.
	switch event.MediaType {
	case "episode", "track":
		event.ParentTitle = StringPtr(m.ParentTitle)
		event.GrandparentTitle = StringPtr(m.GrandparentTitle)
	}
	return event
}
