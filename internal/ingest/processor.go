// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package ingest turns webhooks and monitor observations into durable
// PlaybackEvents, session updates and subscriber messages.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/eventprocessor"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/session"
)

// ErrNilWebhook is returned for a nil payload.
var ErrNilWebhook = errors.New("nil webhook")

// eventNamespace derives stable bus message IDs from idempotency keys so a
// redelivered webhook republishes under the same Nats-Msg-Id.
var eventNamespace = uuid.MustParse("6f1c1f0e-3b7a-4c59-9d4e-0c5a2b9e7d21")

// Store persists playback events.
type Store interface {
	Append(ctx context.Context, event *models.PlaybackEvent) (bool, error)
}

// SessionUpdater folds observations into live session state.
type SessionUpdater interface {
	Apply(u session.Update) session.Result
}

// Broadcaster fans messages out to subscribers.
type Broadcaster interface {
	BroadcastJSON(msgType string, data interface{})
}

// Publisher forwards events to the message bus.
type Publisher interface {
	PublishPlayback(ctx context.Context, event *models.PlaybackEvent) error
	PublishWebhook(ctx context.Context, event *eventprocessor.WebhookEvent) error
}

// Deduper remembers recently processed idempotency keys.
type Deduper interface {
	Seen(key string) bool
	Mark(key string)
	Forget(key string) bool
}

// Processor is the single entry point for new playback activity.
type Processor struct {
	store     Store
	sessions  SessionUpdater
	hub       Broadcaster
	publisher Publisher
	dedup     Deduper
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithPublisher forwards accepted webhooks and new playbacks to the bus.
func WithPublisher(p Publisher) Option {
	return func(pr *Processor) { pr.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(pr *Processor) { pr.now = now }
}

// NewProcessor wires the processor. hub may be nil.
func NewProcessor(store Store, sessions SessionUpdater, hub Broadcaster, dedup Deduper, opts ...Option) *Processor {
	p := &Processor{
		store:    store,
		sessions: sessions,
		hub:      hub,
		dedup:    dedup,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WebhookResult describes what HandleWebhook did.
type WebhookResult struct {
	Event      models.WebhookEventType
	SessionKey string
	Duplicate  bool
	Inserted   bool

	// Recovered is set when an earlier attempt failed but its play was
	// stored by a WAL replay. The play is announced once, as if inserted.
	Recovered bool
}

// HandleWebhook processes one verified, decoded webhook. raw is the
// payload JSON; it stands in for a missing timestamp in the idempotency
// key and is forwarded to the bus.
//
// A duplicate has no side effects. An error means nothing was marked as
// processed, so a redelivery is handled again.
func (p *Processor) HandleWebhook(ctx context.Context, hook *models.PlexWebhook, raw []byte) (WebhookResult, error) {
	if hook == nil {
		return WebhookResult{}, ErrNilWebhook
	}
	key := hook.IdempotencyKey(digest(raw))
	res := WebhookResult{Event: hook.Event, SessionKey: hook.CanonicalSessionKey()}
	log := logging.Ctx(ctx)

	if p.dedup.Seen(key) {
		metrics.WebhooksDuplicate.Inc()
		res.Duplicate = true
		return res, nil
	}

	now := p.now()
	var event *models.PlaybackEvent
	if hook.Event.StartsPlayback() && !p.dedup.Seen(playMarker(res.SessionKey)) {
		event = hook.ToPlaybackEvent(key, now)
	}
	if event != nil {
		inserted, err := p.store.Append(ctx, event)
		if err != nil {
			// The WAL may still land this row before the redelivery.
			p.dedup.Mark(pendingMarker(key))
			return res, fmt.Errorf("append playback event: %w", err)
		}
		switch {
		case inserted:
			res.Inserted = true
		case p.dedup.Forget(pendingMarker(key)):
			// Stored by a replay of the failed attempt, never announced.
			res.Recovered = true
		default:
			// Storage already holds this key: a redelivery that outlived
			// the in-memory window.
			p.dedup.Mark(key)
			metrics.WebhooksDuplicate.Inc()
			res.Duplicate = true
			return res, nil
		}
		p.dedup.Forget(pendingMarker(key))
		p.dedup.Mark(playMarker(res.SessionKey))
	}

	if u, ok := webhookUpdate(hook, now); ok {
		p.sessions.Apply(u)
		if u.State == models.StateStopped {
			p.dedup.Forget(playMarker(u.SessionKey))
		}
	}
	if res.Inserted || res.Recovered {
		p.announce(ctx, event)
	}
	p.publishWebhook(ctx, hook, key, raw, now)

	p.dedup.Mark(key)
	metrics.WebhooksReceived.WithLabelValues(hook.Event.Kind().String()).Inc()

	log.Debug().
		Str("event", logging.SanitizeValue(string(hook.Event))).
		Str("session_key", logging.SanitizeValue(res.SessionKey)).
		Bool("inserted", res.Inserted).
		Bool("recovered", res.Recovered).
		Msg("Webhook processed")
	return res, nil
}

// RecordPlayback persists a playback observed by the session monitor and
// announces it when it is new. event.IdempotencyKey must be set. A session
// whose play was already recorded from a webhook is skipped.
func (p *Processor) RecordPlayback(ctx context.Context, event *models.PlaybackEvent) (bool, error) {
	marker := playMarker(event.SessionKey)
	if p.dedup.Seen(event.IdempotencyKey) || p.dedup.Seen(marker) {
		return false, nil
	}
	inserted, err := p.store.Append(ctx, event)
	if err != nil {
		return false, err
	}
	p.dedup.Mark(event.IdempotencyKey)
	p.dedup.Mark(marker)
	if inserted {
		p.announce(ctx, event)
	}
	return inserted, nil
}

// pendingMarker records a play whose append failed and may be replayed
// from the WAL.
func pendingMarker(key string) string {
	return "pending|" + key
}

// SessionStopped clears the session's play marker so its next play is
// recorded. It is registered with session.Tracker.SetOnStopped and covers
// every retire path: webhook stops, monitor stops and idle sweeps.
func (p *Processor) SessionStopped(key, _ string) {
	p.dedup.Forget(playMarker(key))
}

// playMarker records that a session's play is already stored, so the
// monitor and webhooks do not both append one. Retiring the session
// clears it.
func playMarker(sessionKey string) string {
	return "play|" + sessionKey
}

func (p *Processor) announce(ctx context.Context, event *models.PlaybackEvent) {
	if p.hub != nil {
		p.hub.BroadcastJSON(models.MessageTypeNewPlayback, event)
	}
	if p.publisher != nil {
		if err := p.publisher.PublishPlayback(ctx, event); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to publish playback event")
		}
	}
}

func (p *Processor) publishWebhook(ctx context.Context, hook *models.PlexWebhook, key string, raw []byte, now time.Time) {
	if p.publisher == nil {
		return
	}
	msg := &eventprocessor.WebhookEvent{
		EventID:    uuid.NewSHA1(eventNamespace, []byte(key)).String(),
		Event:      string(hook.Event),
		SessionKey: hook.CanonicalSessionKey(),
		ReceivedAt: now.UTC(),
		Payload:    raw,
	}
	if err := p.publisher.PublishWebhook(ctx, msg); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", string(hook.Event)).Msg("Failed to publish webhook")
	}
}

// webhookUpdate maps a media webhook onto a session update.
func webhookUpdate(hook *models.PlexWebhook, now time.Time) (session.Update, bool) {
	u := session.Update{
		SessionKey: hook.CanonicalSessionKey(),
		Username:   hook.GetUsername(),
		Player:     hook.Player.Title,
		At:         hook.OccurredAt(now),
	}
	switch hook.Event.SessionAction() {
	case models.ActionPlay:
		u.State = models.StatePlaying
		u.NewPlay = true
	case models.ActionResume:
		u.State = models.StatePlaying
	case models.ActionPause:
		u.State = models.StatePaused
	case models.ActionStop:
		u.State = models.StateStopped
	default:
		return session.Update{}, false
	}
	if m := hook.Metadata; m != nil {
		u.RatingKey = m.RatingKey
		u.Title = hook.GetContentTitle()
		if m.ViewOffset > 0 {
			offset := m.ViewOffset
			u.ViewOffset = &offset
		}
	}
	return u, u.SessionKey != ""
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
