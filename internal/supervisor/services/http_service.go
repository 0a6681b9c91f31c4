// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// HTTPServerService runs an *http.Server as a supervised service.
//
//	server := &http.Server{Addr: cfg.Server.Addr(), Handler: router}
//	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
type HTTPServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	name            string

	mu    sync.Mutex
	addr  net.Addr
	bound chan struct{}
}

// NewHTTPServerService creates the wrapper. A non-positive timeout
// defaults to 10s.
func NewHTTPServerService(server *http.Server, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
		bound:           make(chan struct{}),
	}
}

// Serve binds the listener, serves until ctx is canceled, then drains
// connections with Shutdown.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("http server listen on %s: %w", h.server.Addr, err)
	}
	h.setAddr(ln.Addr())
	logging.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) setAddr(a net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := h.addr == nil
	h.addr = a
	if first {
		close(h.bound)
	}
}

// Addr waits until the listener is bound and returns its address.
// It returns nil if ctx ends first.
func (h *HTTPServerService) Addr(ctx context.Context) net.Addr {
	select {
	case <-h.bound:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.addr
	case <-ctx.Done():
		return nil
	}
}

// String implements fmt.Stringer for suture's logs.
func (h *HTTPServerService) String() string {
	return h.name
}
