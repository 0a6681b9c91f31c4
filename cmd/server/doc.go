// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package main is the entry point for the Cartographus realtime core.

The server ingests Plex playback activity from signed webhooks, session
polling and the Plex notification stream, tracks live sessions with
buffer health prediction, persists an append-only playback history in
DuckDB, and pushes updates to WebSocket subscribers.

# Application Architecture

	RootSupervisor ("cartographus-realtime")
	├── DataSupervisor ("data-layer")
	│   ├── WAL retry loop (WAL_ENABLED)
	│   ├── Embedded NATS server (NATS_EMBEDDED)
	│   └── JetStream stream initializer (NATS_ENABLED)
	├── RealtimeSupervisor ("realtime-layer")
	│   ├── WebSocket hub
	│   ├── Session sweeper
	│   ├── Dedup cache cleanup
	│   ├── Plex session monitor (ENABLE_PLEX_MONITORING)
	│   └── Plex notification stream (ENABLE_PLEX_REALTIME)
	└── APISupervisor ("api-layer")
	    └── HTTP server

Component initialization order:

 1. Configuration: Koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog with JSON/console output
 3. Database: DuckDB playback_events table
 4. WAL: BadgerDB, with recovery of entries left pending
 5. NATS (optional): embedded server and Watermill publisher
 6. Hub, session tracker, dedup cache and ingest processor
 7. Cursor codec and Chi router
 8. Supervisor tree

# Configuration

	HTTP_PORT=3857
	LOG_LEVEL=info                 # trace, debug, info, warn, error
	LOG_FORMAT=json                # json or console

	PLEX_URL=http://localhost:32400
	PLEX_TOKEN=<token>
	ENABLE_PLEX_WEBHOOKS=true
	PLEX_WEBHOOK_SECRET=<secret>   # unset accepts unsigned webhooks
	ENABLE_PLEX_MONITORING=true
	ENABLE_PLEX_REALTIME=true

	DUCKDB_PATH=/data/cartographus.duckdb
	WAL_ENABLED=true
	WAL_PATH=/data/wal
	NATS_ENABLED=false
	CURSOR_SIGNING_KEY=<16+ chars>

A config file is read from CONFIG_PATH or config.yaml when present.

# Signal Handling

On SIGINT or SIGTERM the supervisor cancels every service: the HTTP
server drains in-flight requests, the hub closes subscribers with 1001,
the Plex stream sends a close frame, and the WAL and database are closed
after the tree has stopped.
*/
package main
