// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

const endpointSessions = "/status/sessions"

// ErrRateLimited is returned when Plex keeps answering 429 after every retry.
var ErrRateLimited = errors.New("plex rate limit exceeded")

// PlexClient talks to the Plex Media Server HTTP API.
type PlexClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[interface{}]

	maxRetries int
	baseDelay  time.Duration
}

// NewPlexClient creates a client for cfg.URL.
func NewPlexClient(cfg *config.PlexConfig) *PlexClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &PlexClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		breaker:    newPlexBreaker("plex-api"),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
}

// GetSessions returns the sessions currently active on the server.
func (c *PlexClient) GetSessions(ctx context.Context) ([]models.PlexSession, error) {
	var resp models.PlexSessionsResponse
	if err := c.doJSONRequest(ctx, endpointSessions, &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Metadata, nil
}

// doJSONRequest GETs path through the breaker and decodes the body.
func (c *PlexClient) doJSONRequest(ctx context.Context, path string, result interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.fetch(ctx, path, result)
	})
	metrics.RecordPlexRequest(path, err)
	return err
}

func (c *PlexClient) fetch(ctx context.Context, path string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequestWithRateLimit(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doRequestWithRateLimit retries HTTP 429 with exponential backoff,
// preferring the server's Retry-After when it sends one.
func (c *PlexClient) doRequestWithRateLimit(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt == c.maxRetries {
			return nil, fmt.Errorf("%w after %d retries", ErrRateLimited, c.maxRetries)
		}

		delay := c.baseDelay * (1 << attempt)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			delay = d
		}

		logging.Warn().
			Dur("retry_delay", delay).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Msg("Plex API rate limited (HTTP 429), retrying")

		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
