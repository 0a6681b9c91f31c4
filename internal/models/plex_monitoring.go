// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import "strings"

// PlexNotificationWrapper is the envelope of every frame on the Plex
// /:/websockets/notifications stream.
type PlexNotificationWrapper struct {
	NotificationContainer PlexNotificationContainer `json:"NotificationContainer"`
}

// PlexNotificationContainer carries one notification type. Only "playing"
// frames are consumed; other types are decoded and ignored.
type PlexNotificationContainer struct {
	Type                         string                    `json:"type"`
	Size                         int                       `json:"size,omitempty"`
	PlaySessionStateNotification []PlexPlayingNotification `json:"PlaySessionStateNotification,omitempty"`
}

// PlexPlayingNotification is a realtime playback state change.
type PlexPlayingNotification struct {
	SessionKey       string `json:"sessionKey"`
	ClientIdentifier string `json:"clientIdentifier"`
	State            string `json:"state"`
	RatingKey        string `json:"ratingKey"`
	ViewOffset       int64  `json:"viewOffset"`
	Key              string `json:"key,omitempty"`
	TranscodeSession string `json:"transcodeSession,omitempty"`
}

// CanonicalSessionKey returns the tracker key for this notification.
func (n *PlexPlayingNotification) CanonicalSessionKey() string {
	return CanonicalSessionKey(n.ClientIdentifier, n.RatingKey, n.SessionKey)
}

// SessionState maps the Plex state string onto SessionState.
func (n *PlexPlayingNotification) SessionState() SessionState {
	return ParseSessionState(n.State)
}

// PlexSessionsResponse is the body of GET /status/sessions.
type PlexSessionsResponse struct {
	MediaContainer struct {
		Size     int           `json:"size"`
		Metadata []PlexSession `json:"Metadata"`
	} `json:"MediaContainer"`
}

// PlexSession is one active session from /status/sessions.
type PlexSession struct {
	SessionKey       string `json:"sessionKey"`
	RatingKey        string `json:"ratingKey"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	ParentTitle      string `json:"parentTitle,omitempty"`
	GrandparentTitle string `json:"grandparentTitle,omitempty"`
	Year             int    `json:"year,omitempty"`
	ViewOffset       int64  `json:"viewOffset"`
	Duration         int64  `json:"duration"`

	User             *PlexSessionUser      `json:"User,omitempty"`
	Player           *PlexSessionPlayer    `json:"Player,omitempty"`
	TranscodeSession *PlexTranscodeSession `json:"TranscodeSession,omitempty"`
}

// PlexSessionUser is the user watching a session.
type PlexSessionUser struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PlexSessionPlayer is the client device of a session.
type PlexSessionPlayer struct {
	Address   string `json:"address"`
	Device    string `json:"device"`
	MachineID string `json:"machineIdentifier"`
	Platform  string `json:"platform"`
	Product   string `json:"product"`
	State     string `json:"state"`
	Title     string `json:"title"`
	Local     bool   `json:"local"`
}

// PlexTranscodeSession carries transcode progress and the buffered range.
// MaxOffsetAvailable is in milliseconds, like ViewOffset.
type PlexTranscodeSession struct {
	Key                string  `json:"key"`
	Throttled          bool    `json:"throttled"`
	Complete           bool    `json:"complete"`
	Progress           float64 `json:"progress"`
	Speed              float64 `json:"speed"`
	VideoDecision      string  `json:"videoDecision"`
	AudioDecision      string  `json:"audioDecision"`
	MaxOffsetAvailable float64 `json:"maxOffsetAvailable"`
	MinOffsetAvailable float64 `json:"minOffsetAvailable"`
}

// CanonicalSessionKey returns the tracker key for this session.
func (s *PlexSession) CanonicalSessionKey() string {
	playerID := ""
	if s.Player != nil {
		playerID = s.Player.MachineID
	}
	return CanonicalSessionKey(playerID, s.RatingKey, s.SessionKey)
}

// SessionState returns the player state of the session.
func (s *PlexSession) SessionState() SessionState {
	if s.Player == nil {
		return StatePlaying
	}
	return ParseSessionState(s.Player.State)
}

// TranscodeDecision returns "transcode", "copy" or "direct play".
func (s *PlexSession) TranscodeDecision() string {
	if s.TranscodeSession == nil {
		return "direct play"
	}
	v := strings.ToLower(s.TranscodeSession.VideoDecision)
	a := strings.ToLower(s.TranscodeSession.AudioDecision)
	if v == "transcode" || a == "transcode" {
		return "transcode"
	}
	if v == "copy" || a == "copy" {
		return "copy"
	}
	return "direct play"
}

// BufferedSeconds returns the seconds of content buffered ahead of the play
// head, or false when the session is not transcoding (no buffer data).
func (s *PlexSession) BufferedSeconds() (float64, bool) {
	if s.TranscodeSession == nil {
		return 0, false
	}
	ms := s.TranscodeSession.MaxOffsetAvailable - float64(s.ViewOffset)
	if ms < 0 {
		ms = 0
	}
	return ms / 1000.0, true
}
