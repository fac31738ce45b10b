// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package crdt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T) State {
	t.Helper()
	return NewOpLogEngine().NewState()
}

func TestApplyAndDiff(t *testing.T) {
	s := newState(t)

	update := EncodeOp(nil, 1, 0, []byte("Hello"))
	applied, err := s.ApplyUpdate(update)
	require.NoError(t, err)
	assert.Equal(t, update, applied, "fresh update should apply in full")

	// A fresh peer (empty vector) receives the whole state.
	full, err := s.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	assert.Equal(t, update, full)

	// A peer already holding the state receives nothing.
	diff, err := s.EncodeStateAsUpdate(s.EncodeStateVector())
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestReapplyIsNoOp(t *testing.T) {
	s := newState(t)
	update := EncodeOp(nil, 7, 0, []byte("once"))

	applied, err := s.ApplyUpdate(update)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	// Idempotence: the second application changes nothing and reports
	// nothing to rebroadcast.
	applied, err = s.ApplyUpdate(update)
	require.NoError(t, err)
	assert.Empty(t, applied)

	vector := s.EncodeStateVector()
	_, err = s.ApplyUpdate(update)
	require.NoError(t, err)
	assert.Equal(t, vector, s.EncodeStateVector(), "state vector must be stable under replay")
}

func TestConvergenceUnderInterleaving(t *testing.T) {
	// Two replicas apply the same set of updates in different orders and
	// must converge to identical state vectors and materialized bytes.
	updates := [][]byte{
		EncodeOp(nil, 1, 0, []byte("A")),
		EncodeOp(nil, 2, 0, []byte("B")),
		EncodeOp(nil, 1, 1, []byte("C")),
		EncodeOp(nil, 2, 1, []byte("D")),
	}

	a := newState(t)
	b := newState(t)

	for _, u := range updates {
		_, err := a.ApplyUpdate(u)
		require.NoError(t, err)
	}
	for i := len(updates) - 1; i >= 0; i-- {
		_, err := b.ApplyUpdate(updates[i])
		require.NoError(t, err)
	}

	assert.Equal(t, a.EncodeStateVector(), b.EncodeStateVector())

	fullA, err := a.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	fullB, err := b.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(fullA, fullB), "materialized states diverged")
}

func TestSyncExchangeConverges(t *testing.T) {
	// Simulates the step1/step2 exchange between two partially synced peers.
	a := newState(t)
	b := newState(t)

	_, err := a.ApplyUpdate(EncodeOp(nil, 1, 0, []byte("from-a")))
	require.NoError(t, err)
	_, err = b.ApplyUpdate(EncodeOp(nil, 2, 0, []byte("from-b")))
	require.NoError(t, err)

	// a -> b
	diff, err := a.EncodeStateAsUpdate(b.EncodeStateVector())
	require.NoError(t, err)
	_, err = b.ApplyUpdate(diff)
	require.NoError(t, err)

	// b -> a
	diff, err = b.EncodeStateAsUpdate(a.EncodeStateVector())
	require.NoError(t, err)
	_, err = a.ApplyUpdate(diff)
	require.NoError(t, err)

	assert.Equal(t, a.EncodeStateVector(), b.EncodeStateVector())
}

func TestMultiOpUpdatePartialOverlap(t *testing.T) {
	s := newState(t)
	_, err := s.ApplyUpdate(EncodeOp(nil, 3, 0, []byte("known")))
	require.NoError(t, err)

	// One buffer carrying a known op and a new one: only the new op is
	// reported as applied.
	combined := EncodeOp(nil, 3, 0, []byte("known"))
	combined = EncodeOp(combined, 3, 1, []byte("new"))

	applied, err := s.ApplyUpdate(combined)
	require.NoError(t, err)
	assert.Equal(t, EncodeOp(nil, 3, 1, []byte("new")), applied)
}

func TestMalformedInputs(t *testing.T) {
	s := newState(t)

	malformed := [][]byte{
		{0x01},                   // truncated after clientID
		{0x01, 0x00},             // missing length
		{0x01, 0x00, 0x05, 'a'},  // payload shorter than declared
		bytes.Repeat([]byte{0x80}, 12), // unterminated varint
	}
	for _, u := range malformed {
		_, err := s.ApplyUpdate(u)
		assert.ErrorIs(t, err, ErrMalformedUpdate, "input % x", u)
	}

	_, err := s.EncodeStateAsUpdate([]byte{0x02, 0x01})
	assert.ErrorIs(t, err, ErrMalformedUpdate, "truncated state vector")
}

func TestEmptyStateVector(t *testing.T) {
	s := newState(t)
	assert.Equal(t, []byte{0x00}, s.EncodeStateVector(), "empty state encodes a zero-entry vector")
}
