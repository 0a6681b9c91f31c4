// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package wal provides a BadgerDB write-ahead log in front of the DuckDB event store.

Every playback event is written to the WAL before the DuckDB insert is
attempted. A successful insert confirms the entry. An insert that still
fails after the store's bounded retries leaves the entry pending, and the
RetryLoop replays it later. Events therefore survive DuckDB outages and
process crashes between the WAL write and the insert.

Key layout:

	pending:<id>    written by Write, replayed by RetryLoop
	confirmed:<id>  written by Confirm, expires after ConfirmedTTL (Badger TTL)
	failed:<id>     written by MarkFailed once MaxRetries is exhausted

Replays are safe because the event store insert is idempotent on the
event's idempotency key: an entry whose row already exists confirms without
creating a second row.

The RetryLoop implements suture.Service and also runs value-log GC on its
own ticker.
*/
package wal
