// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package eventprocessor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		topics Topics
		event  string
		want   string
	}{
		{"default prefix", Topics{}, "media.play", "playback.webhook.media.play"},
		{"custom prefix", Topics{Prefix: "plex"}, "media.stop", "plex.webhook.media.stop"},
		{"wildcards neutralized", Topics{}, "media.*", "playback.webhook.media._"},
		{"tail wildcard", Topics{}, "a.>", "playback.webhook.a._"},
		{"empty", Topics{}, "", "playback.webhook.unknown"},
		{"stray dots", Topics{}, ".media.play.", "playback.webhook.media.play"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topics.Webhook(tt.event); got != tt.want {
				t.Errorf("Webhook(%q) = %q, want %q", tt.event, got, tt.want)
			}
		})
	}
	if got := (Topics{}).Playback(); got != "playback.events" {
		t.Errorf("Playback() = %q", got)
	}
}

func newGoChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })
	return pubsub
}

func TestPublisher_PublishPlayback(t *testing.T) {
	pubsub := newGoChannel(t)
	pub := NewPublisher(pubsub, Topics{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, "playback.events")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	event := &models.PlaybackEvent{
		ID:         models.NewPlaybackEventID(),
		Source:     "plex_webhook",
		SessionKey: "player:1",
		Username:   "alice",
		Title:      "Arrival",
		MediaType:  "movie",
		StartedAt:  time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC),
	}
	if err := pub.PublishPlayback(ctx, event); err != nil {
		t.Fatalf("PublishPlayback: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		if msg.UUID != event.ID.String() {
			t.Errorf("UUID = %s, want event ID %s", msg.UUID, event.ID)
		}
		if got := msg.Metadata.Get(natsgo.MsgIdHdr); got != event.ID.String() {
			t.Errorf("Nats-Msg-Id = %q", got)
		}
		var decoded models.PlaybackEvent
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded.Title != "Arrival" || decoded.SessionKey != "player:1" {
			t.Errorf("decoded = %+v", decoded)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestPublisher_PublishWebhook(t *testing.T) {
	pubsub := newGoChannel(t)
	pub := NewPublisher(pubsub, Topics{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, "playback.webhook.media.pause")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	err = pub.PublishWebhook(ctx, &WebhookEvent{
		EventID:    "abc",
		Event:      "media.pause",
		ReceivedAt: time.Now().UTC(),
		Payload:    json.RawMessage(`{"event":"media.pause"}`),
	})
	if err != nil {
		t.Fatalf("PublishWebhook: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		if msg.UUID != "abc" {
			t.Errorf("UUID = %q", msg.UUID)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestPublisher_Closed(t *testing.T) {
	pub := NewPublisher(newGoChannel(t), Topics{}, nil)
	if err := pub.Healthy(); err != nil {
		t.Fatalf("Healthy before Close: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Healthy(); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Healthy after Close = %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err := pub.PublishJSON(context.Background(), "playback.events", "", map[string]string{"a": "b"})
	if !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("err = %v, want ErrPublisherClosed", err)
	}
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++
	return errors.New("nats unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func TestPublisher_CircuitBreakerOpens(t *testing.T) {
	failing := &failingPublisher{}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-publisher",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
	})
	pub := NewPublisher(failing, Topics{}, cb)

	for i := 0; i < 5; i++ {
		_ = pub.PublishJSON(context.Background(), "playback.events", "", i)
	}
	if failing.calls != 3 {
		t.Errorf("publisher called %d times, want 3 before the breaker opened", failing.calls)
	}
	if cb.State() != gobreaker.StateOpen {
		t.Errorf("breaker state = %s, want open", cb.State())
	}
	err := pub.PublishJSON(context.Background(), "playback.events", "", 1)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if err := pub.Healthy(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Healthy() = %v, want ErrCircuitOpen", err)
	}
}
