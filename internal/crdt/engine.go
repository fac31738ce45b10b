// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package crdt defines the injected CRDT capability consumed by the document
// coordinators, plus a default op-log engine.
//
// The coordinator treats update and state-vector bytes as opaque; only the
// engine interprets them. This keeps the wire protocol and persistence layer
// independent of any specific CRDT library.
package crdt

import "errors"

// ErrMalformedUpdate reports update bytes the engine cannot parse. The
// coordinator closes the offending peer without mutating state.
var ErrMalformedUpdate = errors.New("crdt: malformed update")

// Engine constructs empty document states.
type Engine interface {
	// NewState returns an empty materialized state.
	NewState() State
}

// State is the materialized CRDT state of one document. States are not safe
// for concurrent use; the coordinator serializes access.
type State interface {
	// ApplyUpdate merges update bytes into the state. It returns the
	// re-encoded portion of the update that was not already present, or nil
	// when the update was fully redundant. Applying the same update twice
	// is a no-op on both state and return value.
	ApplyUpdate(update []byte) (applied []byte, err error)

	// EncodeStateAsUpdate encodes everything the given state vector is
	// missing. An empty or nil vector yields the full state.
	EncodeStateAsUpdate(stateVector []byte) ([]byte, error)

	// EncodeStateVector summarizes what this state has seen.
	EncodeStateVector() []byte
}
