// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

var (
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("publisher is closed")

	// ErrCircuitOpen is reported by Healthy while the breaker rejects publishes.
	ErrCircuitOpen = errors.New("publisher circuit breaker is open")
)

// Publisher wraps a Watermill publisher with a circuit breaker and
// JetStream message ID tracking.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	topics         Topics
	mu             sync.RWMutex
	closed         bool
}

// NewPublisher wraps any Watermill publisher. cb may be nil.
func NewPublisher(pub message.Publisher, topics Topics, cb *gobreaker.CircuitBreaker[interface{}]) *Publisher {
	return &Publisher{publisher: pub, topics: topics, circuitBreaker: cb}
}

// NewNATSPublisher connects a JetStream publisher. The stream is expected to
// exist already (see StreamInitializer).
func NewNATSPublisher(cfg PublisherConfig, topics Topics, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewSlogLogger(logging.NewSlogLogger())
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("cartographus-realtime"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("nats-publisher"))
	return NewPublisher(pub, topics, cb), nil
}

// Topics returns the subject builder in use.
func (p *Publisher) Topics() Topics {
	return p.topics
}

// Publish sends msg to topic. The message UUID becomes the Nats-Msg-Id.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}
	msg.SetContext(ctx)

	var err error
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	metrics.RecordPublish(topic, err)
	return err
}

// PublishJSON encodes v and publishes it with id as the message UUID.
func (p *Publisher) PublishJSON(ctx context.Context, topic, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, data)
	msg.Metadata.Set("content_type", "application/json")
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		msg.Metadata.Set("request_id", rid)
	}
	return p.Publish(ctx, topic, msg)
}

// PublishPlayback publishes a persisted playback event.
func (p *Publisher) PublishPlayback(ctx context.Context, event *models.PlaybackEvent) error {
	return p.PublishJSON(ctx, p.topics.Playback(), event.ID.String(), event)
}

// PublishWebhook publishes an accepted webhook under its event type.
func (p *Publisher) PublishWebhook(ctx context.Context, event *WebhookEvent) error {
	return p.PublishJSON(ctx, p.topics.Webhook(event.Event), event.EventID, event)
}

// Healthy returns nil when publishes can currently go through.
func (p *Publisher) Healthy() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if p.circuitBreaker != nil && p.circuitBreaker.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Close stops the publisher. Further publishes fail with ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
