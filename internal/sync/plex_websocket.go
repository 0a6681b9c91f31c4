// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package sync

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// PlexWebSocketClient consumes the Plex notification stream and hands
// "playing" notifications to a callback. It reconnects with exponential
// backoff until its context is canceled.
type PlexWebSocketClient struct {
	baseURL string
	token   string
	dialer  websocket.Dialer

	onPlaying func(models.PlexPlayingNotification)

	minBackoff   time.Duration
	maxBackoff   time.Duration
	pingInterval time.Duration
}

// NewPlexWebSocketClient creates a client. onPlaying is called from the
// read goroutine, one notification at a time.
func NewPlexWebSocketClient(baseURL, token string, onPlaying func(models.PlexPlayingNotification)) *PlexWebSocketClient {
	return &PlexWebSocketClient{
		baseURL:      baseURL,
		token:        token,
		dialer:       websocket.Dialer{HandshakeTimeout: 10 * time.Second, EnableCompression: true},
		onPlaying:    onPlaying,
		minBackoff:   time.Second,
		maxBackoff:   32 * time.Second,
		pingInterval: 30 * time.Second,
	}
}

// Serve connects and reconnects until ctx is canceled. It is a suture.Service.
func (c *PlexWebSocketClient) Serve(ctx context.Context) error {
	delay := c.minBackoff
	for {
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = c.minBackoff
		}
		logging.Warn().Err(err).Dur("retry_in", delay).Msg("Plex WebSocket disconnected, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = nextBackoff(delay, c.maxBackoff)
	}
}

func (c *PlexWebSocketClient) String() string {
	return "plex-websocket-client"
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// runOnce holds one connection until it fails. connected reports whether
// the dial succeeded.
func (c *PlexWebSocketClient) runOnce(ctx context.Context) (connected bool, err error) {
	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return false, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("websocket dial: %w", err)
	}

	metrics.PlexRealtimeConnected.Set(1)
	logging.Info().Str("host", hostOf(c.baseURL)).Msg("Plex WebSocket connected")
	defer metrics.PlexRealtimeConnected.Set(0)

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	readWait := 2 * c.pingInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return true, err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.handleMessage(message)
	}
}

// keepalive pings the server and closes conn when ctx ends so the blocked
// read returns.
func (c *PlexWebSocketClient) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// buildWebSocketURL maps http(s)://host to ws(s)://host/:/websockets/notifications
// with the token as a query parameter.
func (c *PlexWebSocketClient) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("plex url %q has no host", c.baseURL)
	}

	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: parsed.Host, Path: "/:/websockets/notifications"}
	q := u.Query()
	q.Set("X-Plex-Token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handleMessage routes "playing" notifications; other types are ignored.
func (c *PlexWebSocketClient) handleMessage(data []byte) {
	var wrapper models.PlexNotificationWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		logging.Debug().Err(err).Msg("Failed to parse Plex notification")
		return
	}

	container := wrapper.NotificationContainer
	if container.Type != "playing" || c.onPlaying == nil {
		return
	}
	for i := range container.PlaySessionStateNotification {
		c.onPlaying(container.PlaySessionStateNotification[i])
	}
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Host
	}
	return ""
}
