// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package storage implements the persistence adapter: a durable, append-only
// log of opaque CRDT update bytes per document, with an optional compacted
// snapshot for fast cold starts.
//
// Two backends exist. The badger backend stores every document in one
// embedded BadgerDB under a per-document key prefix; the memory backend is
// the ephemeral variant used by tests and single-request runtimes. The
// backend is selected by PERSIST_BACKEND through New.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// ErrStoreClosed reports use of a store or handle after Close.
var ErrStoreClosed = errors.New("storage: store closed")

// StorageError wraps a backend write failure. Appends that keep failing
// after retries surface a StorageError; the owning coordinator then enters
// its degraded state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store opens per-document handles and performs whole-document operations.
type Store interface {
	// Open opens or creates the logical database for a document.
	// Idempotent; a handle is owned by a single coordinator.
	Open(ctx context.Context, key models.DocumentKey) (Handle, error)

	// Rename atomically relocates a document. It either fully succeeds or
	// leaves the source intact. The document must have no open handle.
	Rename(ctx context.Context, from, to models.DocumentKey) error

	// Destroy removes a document. Idempotent.
	Destroy(ctx context.Context, key models.DocumentKey) error

	// Close releases the backend.
	Close() error
}

// Handle is the per-document persistence surface. Concurrent appends within
// one handle are serialized by the coordinator's message pipeline.
type Handle interface {
	// Key returns the document this handle is bound to.
	Key() models.DocumentKey

	// Append durably appends update bytes and returns the assigned
	// sequence id. Sequence ids are strictly increasing per document.
	// Transient failures are retried internally; a returned error is final.
	Append(ctx context.Context, update []byte) (uint64, error)

	// LoadAll replays the persisted state in order: the snapshot first if
	// one exists, then every update past the truncation watermark. Used on
	// coordinator cold start.
	LoadAll(ctx context.Context, fn func(update []byte) error) error

	// Snapshot writes a compacted snapshot and advances the truncation
	// watermark so LoadAll returns snapshot + tail. Updates at or below
	// the watermark are dropped.
	Snapshot(ctx context.Context, materialized []byte) error

	// Close releases the handle.
	Close() error
}

// New selects a Store implementation from the configured backend.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "badger":
		return OpenBadgerStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
