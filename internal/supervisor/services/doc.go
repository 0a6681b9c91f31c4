// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package services provides suture.Service wrappers for components whose
lifecycle does not already match suture's Serve(ctx) pattern.

# Available Services

HTTP Server (HTTPServerService):
  - Binds the listener before serving so a port conflict fails fast
  - Graceful Shutdown with a bounded timeout on context cancellation

WebSocket Hub (WebSocketHubService):
  - Delegates to the hub's RunWithContext, which closes every
    subscriber with 1001 on shutdown

NATS Stream (NATSStreamService):
  - Ensures the JetStream playback stream exists, retrying with backoff
    until the server is reachable, then finishes with ErrDoNotRestart

Periodic (PeriodicService):
  - Runs a function on a fixed interval, used for dedup cache expiry

Components such as wal.RetryLoop, session.Sweeper, sync.Monitor and
eventprocessor.EmbeddedServer implement suture.Service themselves and are
added to the tree directly.
*/
package services
