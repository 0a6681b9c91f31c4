// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
)

// Errors
var (
	ErrWALClosed     = errors.New("wal is closed")
	ErrNilEvent      = errors.New("wal: nil event")
	ErrEntryNotFound = errors.New("wal: entry not found")
	ErrEmptyEntryID  = errors.New("wal: empty entry id")
)

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
	prefixFailed    = "failed:"
)

// Entry is one logged event and its replay bookkeeping.
type Entry struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

// UnmarshalPayload decodes the logged event into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats is a point-in-time view of the log.
type Stats struct {
	PendingCount   int64 `json:"pending_count"`
	ConfirmedCount int64 `json:"confirmed_count"`
	FailedCount    int64 `json:"failed_count"`
	TotalWrites    int64 `json:"total_writes"`
	TotalConfirms  int64 `json:"total_confirms"`
	TotalRetries   int64 `json:"total_retries"`
	DBSizeBytes    int64 `json:"db_size_bytes"`
}

// BadgerWAL is the BadgerDB-backed write-ahead log.
type BadgerWAL struct {
	db  *badger.DB
	cfg config.WALConfig

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the log at cfg.Path.
func Open(cfg *config.WALConfig) (*BadgerWAL, error) {
	if cfg.Path == "" {
		return nil, errors.New("wal: path is required")
	}
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.MemTableSizeMiB > 0 {
		opts = opts.WithMemTableSize(cfg.MemTableSizeMiB << 20)
	}
	w, err := open(opts, cfg)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("WAL opened")
	return w, nil
}

// OpenInMemory opens a non-persistent log. Used by tests.
func OpenInMemory(cfg *config.WALConfig) (*BadgerWAL, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return open(opts, cfg)
}

func open(opts badger.Options, cfg *config.WALConfig) (*BadgerWAL, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &BadgerWAL{db: db, cfg: *cfg}, nil
}

func (w *BadgerWAL) checkNotClosed() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write logs event under entryID (a fresh UUID when empty) and returns the
// id. The write is fsynced when SyncWrites is set.
func (w *BadgerWAL) Write(ctx context.Context, entryID string, event interface{}) (string, error) {
	if err := w.checkNotClosed(); err != nil {
		return "", err
	}
	if event == nil {
		return "", ErrNilEvent
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	if entryID == "" {
		entryID = uuid.New().String()
	}

	entry := &Entry{
		ID:        entryID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	if err := w.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixPending+entryID), data)
	}); err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.WALPendingEntries.Inc()
	return entryID, nil
}

// Confirm moves a pending entry to confirmed. Confirmed entries expire
// after ConfirmedTTL.
func (w *BadgerWAL) Confirm(ctx context.Context, entryID string) error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	err := w.move(entryID, prefixConfirmed, w.cfg.ConfirmedTTL, func(e *Entry) {
		now := time.Now().UTC()
		e.ConfirmedAt = &now
	})
	if err != nil {
		return err
	}
	w.totalConfirms.Add(1)
	metrics.WALPendingEntries.Dec()
	return nil
}

// MarkFailed parks a pending entry under failed:<id> so it is no longer
// replayed but stays available for inspection.
func (w *BadgerWAL) MarkFailed(ctx context.Context, entryID, reason string) error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	err := w.move(entryID, prefixFailed, 0, func(e *Entry) {
		now := time.Now().UTC()
		e.FailedAt = &now
		e.LastError = reason
	})
	if err != nil {
		return err
	}
	metrics.WALPendingEntries.Dec()
	return nil
}

// move rewrites pending:<id> under prefix in one transaction.
func (w *BadgerWAL) move(entryID, prefix string, ttl time.Duration, update func(*Entry)) error {
	pendingKey := []byte(prefixPending + entryID)
	return w.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, pendingKey)
		if err != nil {
			return err
		}
		update(entry)

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry([]byte(prefix+entryID), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set %s entry: %w", prefix, err)
		}
		return txn.Delete(pendingKey)
	})
}

// UpdateAttempt records a failed replay attempt.
func (w *BadgerWAL) UpdateAttempt(ctx context.Context, entryID, lastError string) error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}
	w.totalRetries.Add(1)
	return nil
}

// GetPending returns every pending entry from one consistent snapshot,
// oldest key order first.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkNotClosed(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// Stats counts entries by state.
func (w *BadgerWAL) Stats() Stats {
	if w.checkNotClosed() != nil {
		return Stats{}
	}

	count := func(txn *badger.Txn, prefix string) int64 {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var n int64
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			n++
		}
		return n
	}

	var stats Stats
	if err := w.db.View(func(txn *badger.Txn) error {
		stats.PendingCount = count(txn, prefixPending)
		stats.ConfirmedCount = count(txn, prefixConfirmed)
		stats.FailedCount = count(txn, prefixFailed)
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("WAL Stats failed to count entries")
	}

	lsm, vlog := w.db.Size()
	stats.DBSizeBytes = lsm + vlog
	stats.TotalWrites = w.totalWrites.Load()
	stats.TotalConfirms = w.totalConfirms.Load()
	stats.TotalRetries = w.totalRetries.Load()

	metrics.WALPendingEntries.Set(float64(stats.PendingCount))
	return stats
}

// RunGC rewrites value-log files until Badger reports nothing to reclaim.
func (w *BadgerWAL) RunGC() error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}
	for {
		err := w.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Ping reports whether the log is open. Used by the readiness probe.
func (w *BadgerWAL) Ping() error {
	if err := w.checkNotClosed(); err != nil {
		return err
	}
	if w.db.IsClosed() {
		return ErrWALClosed
	}
	return nil
}

// Close closes the log. Subsequent calls are no-ops.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("WAL closed")
	return nil
}

func readEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}
