// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// missedPongLimit consecutive unanswered pings disconnect a subscriber.
const missedPongLimit = 2

// clientIDCounter hands out subscription IDs; broadcast order follows them.
var clientIDCounter atomic.Uint64

// Client is one subscriber connection.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// closeReason is written by the hub goroutine before send is closed.
	closeReason string
	// exitReason is set by whichever pump first detects a terminal error.
	exitReason atomic.Pointer[string]
	// lastPong is the unix-nano time of the latest pong.
	lastPong atomic.Int64
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.cfg.SendQueueSize),
	}
}

// ID returns the subscription ID.
func (c *Client) ID() uint64 {
	return c.id
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

// closeSend is called by the hub goroutine exactly once.
func (c *Client) closeSend(reason string) {
	c.closeReason = reason
	close(c.send)
}

func (c *Client) setExit(reason string) {
	c.exitReason.CompareAndSwap(nil, &reason)
}

func (c *Client) exit() string {
	if r := c.exitReason.Load(); r != nil {
		return *r
	}
	return ReasonClientClosed
}

// readPump consumes inbound frames until the connection fails. Only a
// {"type":"ping"} text frame is answered; everything else is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c.id, c.exit())
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.lastPong.Store(time.Now().UnixNano())
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Debug().Err(err).Uint64("subscriber_id", c.id).Msg("websocket read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var inbound struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &inbound) != nil || inbound.Type != MessageTypePing {
			continue
		}
		select {
		case c.hub.replies <- reply{id: c.id, msg: Message{Type: MessageTypePong, Timestamp: time.Now().UTC()}}:
		case <-c.hub.stopped:
			return
		}
	}
}

// writePump drains the send queue in order and sends heartbeats.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var lastPing time.Time
	missed := 0

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.writeClose(c.closeReason)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.setExit(ReasonWriteError)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Uint64("subscriber_id", c.id).Msg("websocket write failed")
				c.setExit(ReasonWriteError)
				return
			}

		case now := <-ticker.C:
			if !lastPing.IsZero() && c.lastPong.Load() < lastPing.UnixNano() {
				missed++
			} else {
				missed = 0
			}
			if missed >= missedPongLimit {
				logging.Info().Uint64("subscriber_id", c.id).Int("missed_pongs", missed).Msg("websocket subscriber stopped answering pings")
				c.setExit(ReasonMissedPong)
				c.writeClose(ReasonMissedPong)
				return
			}

			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.setExit(ReasonWriteError)
				return
			}
			lastPing = now
		}
	}
}

func (c *Client) writeClose(reason string) {
	code, text := closeFrame(reason)
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.cfg.WriteWait))
}

func closeFrame(reason string) (int, string) {
	switch reason {
	case ReasonSlowConsumer:
		return websocket.ClosePolicyViolation, "slow consumer"
	case ReasonMissedPong:
		return websocket.CloseGoingAway, "pong timeout"
	case ReasonShutdown:
		return websocket.CloseGoingAway, "server shutdown"
	default:
		return websocket.CloseNormalClosure, ""
	}
}
