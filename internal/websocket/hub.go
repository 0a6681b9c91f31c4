// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Inbound control messages. Anything else a client sends is ignored.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Disconnect reasons, used for the close frame and the disconnect metric.
const (
	ReasonClientClosed = "client_closed"
	ReasonSlowConsumer = "slow_consumer"
	ReasonMissedPong   = "missed_pong"
	ReasonWriteError   = "write_error"
	ReasonShutdown     = "shutdown"
	ReasonUnsubscribed = "unsubscribed"
)

// Message is one outbound frame.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Config holds subscriber limits and heartbeat timing.
type Config struct {
	PingInterval   time.Duration
	WriteWait      time.Duration
	SendQueueSize  int
	MaxMessageSize int64
}

// ConfigFrom converts application config.
func ConfigFrom(c config.WebSocketConfig) Config {
	return Config{
		PingInterval:   c.PingInterval,
		WriteWait:      c.WriteWait,
		SendQueueSize:  c.SendQueueSize,
		MaxMessageSize: c.MaxMessageSize,
	}
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

type removal struct {
	id     uint64
	reason string
}

type reply struct {
	id  uint64
	msg Message
}

// Hub owns the subscriber set. Only the RunWithContext goroutine touches
// clients; everything else talks to it through channels.
type Hub struct {
	cfg Config

	clients    map[uint64]*Client
	broadcast  chan Message
	register   chan *Client
	unregister chan removal
	replies    chan reply

	count    atomic.Int64
	stopped  chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewHub creates a hub. Call RunWithContext to start it.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:        cfg.withDefaults(),
		clients:    make(map[uint64]*Client),
		broadcast:  make(chan Message, 1024),
		register:   make(chan *Client),
		unregister: make(chan removal, 64),
		replies:    make(chan reply, 64),
		stopped:    make(chan struct{}),
		now:        time.Now,
	}
}

// Subscribe attaches conn to the hub and starts its pumps. It returns the
// subscription ID, or 0 if the hub has stopped (conn is then closed).
func (h *Hub) Subscribe(conn *websocket.Conn) uint64 {
	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.stopped:
		if conn != nil {
			_ = conn.Close()
		}
		return 0
	}
	c.start()
	return c.id
}

// Unsubscribe closes a subscription. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id uint64) {
	h.remove(id, ReasonUnsubscribed)
}

func (h *Hub) remove(id uint64, reason string) {
	select {
	case h.unregister <- removal{id: id, reason: reason}:
	case <-h.stopped:
	}
}

// Broadcast queues msg for every subscriber. It waits for the hub to
// accept the message rather than dropping it, and returns immediately
// once the hub has stopped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	select {
	case h.broadcast <- msg:
	case <-h.stopped:
	}
}

// BroadcastJSON wraps data in a typed frame and broadcasts it.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	h.Broadcast(Message{Type: messageType, Data: data, Timestamp: h.now().UTC()})
}

// GetClientCount returns the number of live subscribers.
func (h *Hub) GetClientCount() int {
	return int(h.count.Load())
}

// RunWithContext runs the hub until ctx is canceled, then closes every
// subscriber. A hub cannot be restarted once it returns.
//
// Lifecycle events are drained before broadcasts so a client registered
// before a broadcast always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.stopped) })

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case r := <-h.unregister:
			h.drop(r.id, r.reason)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case r := <-h.unregister:
			h.drop(r.id, r.reason)
		case r := <-h.replies:
			if c, ok := h.clients[r.id]; ok {
				h.deliver(c, r.msg, nil)
			}
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c.id] = c
	n := h.count.Add(1)
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("subscriber_id", c.id).Int64("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) drop(id uint64, reason string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	c.closeSend(reason)
	n := h.count.Add(-1)
	metrics.WSConnections.Set(float64(n))
	metrics.WSDisconnects.WithLabelValues(reason).Inc()
	logging.Info().
		Uint64("subscriber_id", id).
		Str("reason", reason).
		Int64("total_clients", n).
		Msg("websocket client disconnected")
}

// broadcastToClients encodes msg once and queues it for each subscriber in
// ID order. A full queue disconnects that subscriber only.
func (h *Hub) broadcastToClients(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("message_type", msg.Type).Msg("failed to encode websocket message")
		return
	}

	ids := make([]uint64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		h.deliver(h.clients[id], msg, payload)
	}
}

func (h *Hub) deliver(c *Client, msg Message, payload []byte) {
	if payload == nil {
		var err error
		if payload, err = json.Marshal(msg); err != nil {
			logging.Error().Err(err).Str("message_type", msg.Type).Msg("failed to encode websocket message")
			return
		}
	}
	select {
	case c.send <- payload:
		metrics.WSMessagesSent.WithLabelValues(msg.Type).Inc()
	default:
		logging.Warn().
			Uint64("subscriber_id", c.id).
			Str("message_type", msg.Type).
			Int("queue_size", cap(c.send)).
			Msg("websocket send queue full, disconnecting slow consumer")
		h.drop(c.id, ReasonSlowConsumer)
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := len(h.clients)
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

func (h *Hub) closeAllClients() {
	ids := make([]uint64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.drop(id, ReasonShutdown)
	}
}
