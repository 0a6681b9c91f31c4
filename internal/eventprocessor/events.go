// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package eventprocessor

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DefaultSubjectPrefix is the root of every published subject.
const DefaultSubjectPrefix = "playback"

// Topics builds subjects under a prefix.
type Topics struct {
	Prefix string
}

// Playback is the subject for persisted PlaybackEvents.
func (t Topics) Playback() string {
	return t.prefix() + ".events"
}

// Webhook is the subject for a webhook event type. Characters NATS treats
// specially are replaced so an unexpected type cannot widen a subscription.
func (t Topics) Webhook(eventType string) string {
	eventType = strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, strings.Trim(eventType, "."))
	if eventType == "" {
		eventType = "unknown"
	}
	return t.prefix() + ".webhook." + eventType
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultSubjectPrefix
	}
	return t.Prefix
}

// WebhookEvent is the published form of an accepted webhook.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	Event      string          `json:"event"`
	SessionKey string          `json:"session_key,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}
