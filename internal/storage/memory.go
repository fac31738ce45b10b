// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package storage

import (
	"context"
	"sync"

	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// MemoryStore is the ephemeral persistence backend. It honors the same
// sequencing and snapshot semantics as the badger backend and is the
// PERSIST_BACKEND=memory variant used in tests and single-request runtimes.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]*memDoc
	closed bool
}

type memDoc struct {
	seq      uint64
	updates  []memUpdate
	snapshot []byte
	mark     uint64
}

type memUpdate struct {
	seq   uint64
	bytes []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memDoc)}
}

func (s *MemoryStore) Open(ctx context.Context, key models.DocumentKey) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.docs[key.String()]; !ok {
		s.docs[key.String()] = &memDoc{}
	}
	return &memHandle{store: s, key: key}, nil
}

func (s *MemoryStore) Rename(ctx context.Context, from, to models.DocumentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	doc, ok := s.docs[from.String()]
	if !ok {
		return nil // nothing to move
	}
	s.docs[to.String()] = doc
	delete(s.docs, from.String())
	return nil
}

func (s *MemoryStore) Destroy(ctx context.Context, key models.DocumentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.docs, key.String())
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memHandle struct {
	store *MemoryStore
	key   models.DocumentKey
}

func (h *memHandle) Key() models.DocumentKey {
	return h.key
}

func (h *memHandle) doc() (*memDoc, error) {
	if h.store.closed {
		return nil, ErrStoreClosed
	}
	doc, ok := h.store.docs[h.key.String()]
	if !ok {
		// The document was renamed or destroyed underneath the handle.
		doc = &memDoc{}
		h.store.docs[h.key.String()] = doc
	}
	return doc, nil
}

func (h *memHandle) Append(ctx context.Context, update []byte) (uint64, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	doc, err := h.doc()
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	doc.seq++
	buf := make([]byte, len(update))
	copy(buf, update)
	doc.updates = append(doc.updates, memUpdate{seq: doc.seq, bytes: buf})
	return doc.seq, nil
}

func (h *memHandle) LoadAll(ctx context.Context, fn func(update []byte) error) error {
	h.store.mu.Lock()
	doc, err := h.doc()
	if err != nil {
		h.store.mu.Unlock()
		return &StorageError{Op: "loadAll", Err: err}
	}
	snapshot := doc.snapshot
	mark := doc.mark
	updates := make([]memUpdate, len(doc.updates))
	copy(updates, doc.updates)
	h.store.mu.Unlock()

	if len(snapshot) > 0 {
		if err := fn(snapshot); err != nil {
			return err
		}
	}
	for _, u := range updates {
		if u.seq <= mark {
			continue
		}
		if err := fn(u.bytes); err != nil {
			return err
		}
	}
	return nil
}

func (h *memHandle) Snapshot(ctx context.Context, materialized []byte) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	doc, err := h.doc()
	if err != nil {
		return &StorageError{Op: "snapshot", Err: err}
	}
	doc.snapshot = append([]byte{}, materialized...)
	doc.mark = doc.seq

	tail := doc.updates[:0]
	for _, u := range doc.updates {
		if u.seq > doc.mark {
			tail = append(tail, u)
		}
	}
	doc.updates = tail
	return nil
}

func (h *memHandle) Close() error {
	return nil
}
