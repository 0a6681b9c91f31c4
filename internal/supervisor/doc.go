// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package supervisor runs the long-lived services of the realtime core under
a suture v4 tree.

	root ("cartographus-realtime")
	├── data-layer
	│   ├── wal-retry-loop
	│   ├── nats-embedded-server (nats.embedded_server)
	│   └── nats-stream (nats.enabled)
	├── realtime-layer
	│   ├── websocket-hub
	│   ├── session-sweeper
	│   ├── dedup-cleanup
	│   ├── plex-session-monitor (plex.monitoring_enabled)
	│   └── plex-websocket-client (plex.realtime_enabled)
	└── api-layer
	    └── http-server

Each layer restarts its children independently, so a Plex outage that
crashes the monitor never interrupts webhook intake or subscribers.
Supervisor events are logged through sutureslog into the zerolog logger.
*/
package supervisor
