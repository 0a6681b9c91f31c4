// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/api"
	"github.com/tomtom215/cartographus-realtime/internal/cache"
	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/database"
	"github.com/tomtom215/cartographus-realtime/internal/eventstore"
	"github.com/tomtom215/cartographus-realtime/internal/ingest"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/pagination"
	"github.com/tomtom215/cartographus-realtime/internal/session"
	"github.com/tomtom215/cartographus-realtime/internal/supervisor"
	"github.com/tomtom215/cartographus-realtime/internal/supervisor/services"
	"github.com/tomtom215/cartographus-realtime/internal/sync"
	ws "github.com/tomtom215/cartographus-realtime/internal/websocket"
)

//nolint:gocyclo // Sequential setup steps
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("webhooks", cfg.Plex.WebhooksEnabled).
		Bool("plex_monitoring", cfg.Plex.MonitoringEnabled).
		Bool("plex_realtime", cfg.Plex.RealtimeEnabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting Cartographus realtime core")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	walComponents, err := InitWAL(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize WAL")
	}
	defer walComponents.Close()

	store := eventstore.New(db, walComponents.Log(), eventstore.Config{
		Retries: cfg.Database.AppendRetries,
		Backoff: cfg.Database.RetryBackoff,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	walComponents.Recover(ctx, store)

	natsComponents, err := InitNATS(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS")
	}
	defer natsComponents.Close()

	hub := ws.NewHub(ws.ConfigFrom(cfg.WebSocket))
	tracker := session.NewTracker(session.ConfigFrom(cfg), hub)
	dedup := cache.NewLRUCache(cfg.Sessions.DedupCapacity, cfg.Sessions.DedupWindow)

	var opts []ingest.Option
	if pub := natsComponents.Publisher(); pub != nil {
		opts = append(opts, ingest.WithPublisher(pub))
	}
	processor := ingest.NewProcessor(store, tracker, hub, dedup, opts...)
	tracker.SetOnStopped(processor.SessionStopped)

	codec, err := pagination.NewCodec([]byte(cfg.Pagination.CursorKey))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize cursor codec")
	}
	if cfg.Pagination.CursorKey == "" {
		logging.Warn().Msg("No cursor key configured (CURSOR_SIGNING_KEY); cursors will not survive a restart")
	}
	paginator := pagination.New(db, codec, cfg.Pagination.MaxLimit)

	ready := map[string]api.Checker{
		"database": db.Ping,
	}
	if cfg.WAL.Enabled {
		ready["wal"] = walComponents.Ready
	}
	if cfg.NATS.Enabled {
		ready["nats"] = natsComponents.Ready
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Webhooks:  processor,
		Playbacks: paginator,
		Sessions:  tracker,
		Hub:       hub,
		Ready:     ready,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security)))

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Supervisor events go through zerolog via the slog bridge.
	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})

	walComponents.AddToSupervisor(tree, store)
	natsComponents.AddToSupervisor(tree)

	tree.AddRealtimeService(services.NewWebSocketHubService(hub))
	tree.AddRealtimeService(session.NewSweeper(tracker, cfg.Sessions.SweepInterval))
	tree.AddRealtimeService(services.NewPeriodicService("dedup-cleanup", cfg.Sessions.DedupWindow, func(context.Context) {
		if n := dedup.CleanupExpired(); n > 0 {
			logging.Debug().Int("expired", n).Msg("Dedup cache cleaned")
		}
	}))
	addPlexServices(cfg, tree, tracker, processor)

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		cancel()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// addPlexServices wires session polling and the notification stream.
func addPlexServices(cfg *config.Config, tree *supervisor.SupervisorTree, tracker *session.Tracker, recorder sync.PlaybackRecorder) {
	if !cfg.Plex.MonitoringEnabled && !cfg.Plex.RealtimeEnabled {
		logging.Info().Msg("Plex session monitoring disabled, relying on webhooks only")
		return
	}

	monitor := sync.NewMonitor(sync.NewPlexClient(&cfg.Plex), tracker, recorder, sync.MonitorConfig{
		PollInterval:          cfg.BufferHealth.PollInterval,
		BufferCapacitySeconds: cfg.BufferHealth.BufferCapacitySeconds,
	})
	if cfg.Plex.MonitoringEnabled {
		tree.AddRealtimeService(monitor)
		logging.Info().Dur("interval", cfg.BufferHealth.PollInterval).Msg("Plex session monitor added to supervisor tree")
	}
	if cfg.Plex.RealtimeEnabled {
		tree.AddRealtimeService(sync.NewPlexWebSocketClient(cfg.Plex.URL, cfg.Plex.Token, monitor.HandleNotification))
		logging.Info().Msg("Plex notification stream added to supervisor tree")
	}
}
