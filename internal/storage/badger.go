// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// Key layout, all under a per-document prefix:
//
//	doc:<owner>\x1f<slug>\x1f<name>\x1f u:<seq:020d>  -> update bytes
//	doc:<owner>\x1f<slug>\x1f<name>\x1f seq           -> uint64 counter
//	doc:<owner>\x1f<slug>\x1f<name>\x1f snap          -> snapshot bytes
//	doc:<owner>\x1f<slug>\x1f<name>\x1f mark          -> truncation watermark
//
// The unit separator keeps document names containing colons from aliasing
// another document's prefix. Sequence ids are zero-padded so badger's
// lexicographic iteration yields append order.
const keySep = "\x1f"

func docPrefix(key models.DocumentKey) []byte {
	return []byte("doc:" + key.Owner + keySep + key.Slug + keySep + key.Name + keySep)
}

func updateKey(prefix []byte, seq uint64) []byte {
	return append(append([]byte{}, prefix...), fmt.Sprintf("u:%020d", seq)...)
}

// BadgerStore is the embedded ordered key-value backend. One badger database
// hosts every document; per-document isolation comes from the key prefix.
type BadgerStore struct {
	db  *badger.DB
	cfg config.StorageConfig

	// breaker trips after repeated append failures so a sick disk fails
	// fast instead of stalling every coordinator on retries.
	breaker *gobreaker.CircuitBreaker[uint64]

	mu     sync.Mutex
	closed bool
}

// OpenBadgerStore opens or creates the database at the configured path.
func OpenBadgerStore(cfg config.StorageConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}

	breaker := gobreaker.NewCircuitBreaker[uint64](gobreaker.Settings{
		Name:    "storage-append",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("storage circuit breaker state change")
		},
	})

	return &BadgerStore{db: db, cfg: cfg, breaker: breaker}, nil
}

// Open returns a handle bound to the document's key prefix.
func (s *BadgerStore) Open(ctx context.Context, key models.DocumentKey) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &badgerHandle{store: s, key: key, prefix: docPrefix(key)}, nil
}

// Rename relocates every key of the source document under the destination
// prefix, then removes the source. The copy happens before any delete: a
// failure mid-copy removes the partial destination and leaves the source
// intact.
func (s *BadgerStore) Rename(ctx context.Context, from, to models.DocumentKey) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	fromPrefix := docPrefix(from)
	toPrefix := docPrefix(to)

	copyErr := func() error {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Seek(fromPrefix); it.ValidForPrefix(fromPrefix); it.Next() {
				item := it.Item()
				suffix := item.Key()[len(fromPrefix):]
				dest := append(append([]byte{}, toPrefix...), suffix...)
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := wb.Set(dest, val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return wb.Flush()
	}()

	if copyErr != nil {
		// Best-effort cleanup of the partial destination; the source is
		// untouched either way.
		if dropErr := s.db.DropPrefix(toPrefix); dropErr != nil {
			logging.Error().Err(dropErr).
				Str("document", to.String()).
				Msg("failed to clean up partial rename destination")
		}
		return &StorageError{Op: "rename", Err: copyErr}
	}

	if err := s.db.DropPrefix(fromPrefix); err != nil {
		return &StorageError{Op: "rename", Err: err}
	}

	logging.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("document renamed")
	return nil
}

// Destroy drops the document's key prefix. Idempotent.
func (s *BadgerStore) Destroy(ctx context.Context, key models.DocumentKey) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	if err := s.db.DropPrefix(docPrefix(key)); err != nil {
		return &StorageError{Op: "destroy", Err: err}
	}
	return nil
}

// RunGC runs one badger value-log garbage collection cycle. Called by the
// supervised storage GC service.
func (s *BadgerStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type badgerHandle struct {
	store  *BadgerStore
	key    models.DocumentKey
	prefix []byte
}

func (h *badgerHandle) Key() models.DocumentKey {
	return h.key
}

// Append writes the update under the next sequence id. Transient failures
// are retried with exponential backoff, at most AppendRetries times, behind
// the store's circuit breaker.
func (h *badgerHandle) Append(ctx context.Context, update []byte) (uint64, error) {
	backoff := h.store.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= h.store.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			metrics.StorageRetries.Inc()
			select {
			case <-ctx.Done():
				return 0, &StorageError{Op: "append", Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		seq, err := h.store.breaker.Execute(func() (uint64, error) {
			return h.appendOnce(update)
		})
		if err == nil {
			return seq, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) {
			// The breaker is rejecting writes outright; retrying locally
			// will not help.
			break
		}
	}

	return 0, &StorageError{Op: "append", Err: lastErr}
}

// appendOnce performs one atomic counter-increment-and-write.
func (h *badgerHandle) appendOnce(update []byte) (uint64, error) {
	var seq uint64
	err := h.store.db.Update(func(txn *badger.Txn) error {
		seqKey := append(append([]byte{}, h.prefix...), "seq"...)

		switch item, err := txn.Get(seqKey); {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			seq = 0
		default:
			return err
		}

		seq++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seq)
		if err := txn.Set(seqKey, buf[:]); err != nil {
			return err
		}
		return txn.Set(updateKey(h.prefix, seq), update)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// LoadAll replays snapshot (if any) then every update past the watermark in
// sequence order.
func (h *badgerHandle) LoadAll(ctx context.Context, fn func(update []byte) error) error {
	err := h.store.db.View(func(txn *badger.Txn) error {
		snapKey := append(append([]byte{}, h.prefix...), "snap"...)
		markKey := append(append([]byte{}, h.prefix...), "mark"...)

		var mark uint64
		if item, err := txn.Get(markKey); err == nil {
			if err := item.Value(func(val []byte) error {
				mark = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if item, err := txn.Get(snapKey); err == nil {
			snap, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(snap) > 0 {
				if err := fn(snap); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		updatePrefix := append(append([]byte{}, h.prefix...), "u:"...)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(updatePrefix); it.ValidForPrefix(updatePrefix); it.Next() {
			item := it.Item()
			var seq uint64
			if _, err := fmt.Sscanf(string(item.Key()[len(updatePrefix):]), "%d", &seq); err != nil {
				return fmt.Errorf("corrupt update key %q: %w", item.Key(), err)
			}
			if seq <= mark {
				continue // superseded by the snapshot, pending lazy cleanup
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "loadAll", Err: err}
	}
	return nil
}

// Snapshot atomically records the compacted state and watermark, then drops
// the superseded updates. The delete is lazy cleanup: LoadAll ignores
// updates at or below the watermark, so a crash between the two phases is
// harmless.
func (h *badgerHandle) Snapshot(ctx context.Context, materialized []byte) error {
	var mark uint64
	err := h.store.db.Update(func(txn *badger.Txn) error {
		seqKey := append(append([]byte{}, h.prefix...), "seq"...)
		if item, err := txn.Get(seqKey); err == nil {
			if err := item.Value(func(val []byte) error {
				mark = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		snapKey := append(append([]byte{}, h.prefix...), "snap"...)
		markKey := append(append([]byte{}, h.prefix...), "mark"...)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], mark)
		if err := txn.Set(markKey, buf[:]); err != nil {
			return err
		}
		return txn.Set(snapKey, materialized)
	})
	if err != nil {
		return &StorageError{Op: "snapshot", Err: err}
	}

	// Lazy cleanup of superseded updates.
	wb := h.store.db.NewWriteBatch()
	defer wb.Cancel()
	cleanupErr := h.store.db.View(func(txn *badger.Txn) error {
		updatePrefix := append(append([]byte{}, h.prefix...), "u:"...)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(updatePrefix); it.ValidForPrefix(updatePrefix); it.Next() {
			var seq uint64
			key := it.Item().KeyCopy(nil)
			if _, err := fmt.Sscanf(string(key[len(updatePrefix):]), "%d", &seq); err != nil {
				continue
			}
			if seq <= mark {
				if err := wb.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if cleanupErr == nil {
		cleanupErr = wb.Flush()
	}
	if cleanupErr != nil {
		logging.Warn().Err(cleanupErr).
			Str("document", h.key.String()).
			Msg("snapshot cleanup incomplete, will retry on next snapshot")
	}
	return nil
}

func (h *badgerHandle) Close() error {
	return nil
}
