// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package eventprocessor publishes playback domain events to NATS JetStream.

Subjects, with the default "playback" prefix:

	playback.events                 persisted PlaybackEvents
	playback.webhook.<event type>   every accepted Plex webhook

Messages are published through Watermill. The message UUID is the event
ID and is copied to the Nats-Msg-Id header, so JetStream drops
redeliveries of the same event inside the stream's duplicate window.

Publishing sits behind a gobreaker circuit breaker. A failed publish is
logged and counted by the caller; it never fails ingestion.

For single-node deployments EmbeddedServer runs nats-server in process
with JetStream enabled, and StreamInitializer creates the stream before
the first publish.
*/
package eventprocessor
