// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package crdt

import (
	"encoding/binary"
	"sort"
)

// OpLogEngine is the default Engine: documents are per-client operation logs
// identified by (clientID, clock) pairs. Payload bytes are opaque; merging is
// set union keyed by op identity, which makes application commutative and
// idempotent under any delivery order.
//
// Wire formats:
//
//	update        = op+
//	op            = uvarint clientID, uvarint clock, uvarint len, payload
//	state vector  = uvarint entryCount, (uvarint clientID, uvarint nextClock)*
//
// A state vector entry's nextClock is one past the highest clock seen for
// that client; clients are expected to issue clocks contiguously.
type OpLogEngine struct{}

// NewOpLogEngine returns the default engine.
func NewOpLogEngine() *OpLogEngine {
	return &OpLogEngine{}
}

// NewState returns an empty op-log state.
func (e *OpLogEngine) NewState() State {
	return &opLogState{clients: make(map[uint64][]op)}
}

type op struct {
	clock   uint64
	payload []byte
}

type opLogState struct {
	// clients maps clientID to ops sorted by clock.
	clients map[uint64][]op
}

// EncodeOp appends one encoded op to buf. Exported for clients and tests
// that construct updates by hand.
func EncodeOp(buf []byte, clientID, clock uint64, payload []byte) []byte {
	buf = binary.AppendUvarint(buf, clientID)
	buf = binary.AppendUvarint(buf, clock)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// ApplyUpdate merges the ops carried by update. Ops already present are
// skipped; the returned bytes re-encode only the newly inserted ops.
func (s *opLogState) ApplyUpdate(update []byte) ([]byte, error) {
	ops, err := parseOps(update)
	if err != nil {
		return nil, err
	}

	var applied []byte
	for _, parsed := range ops {
		if s.insert(parsed.clientID, parsed.op) {
			applied = EncodeOp(applied, parsed.clientID, parsed.op.clock, parsed.op.payload)
		}
	}
	return applied, nil
}

// EncodeStateAsUpdate returns every op the vector has not seen, ordered by
// (clientID, clock) for determinism.
func (s *opLogState) EncodeStateAsUpdate(stateVector []byte) ([]byte, error) {
	vector, err := decodeStateVector(stateVector)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	for _, id := range ids {
		next := vector[id]
		for _, o := range s.clients[id] {
			if o.clock >= next {
				out = EncodeOp(out, id, o.clock, o.payload)
			}
		}
	}
	return out, nil
}

// EncodeStateVector encodes one entry per known client: id and next clock.
func (s *opLogState) EncodeStateVector() []byte {
	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := binary.AppendUvarint(nil, uint64(len(ids)))
	for _, id := range ids {
		ops := s.clients[id]
		buf = binary.AppendUvarint(buf, id)
		buf = binary.AppendUvarint(buf, ops[len(ops)-1].clock+1)
	}
	return buf
}

// insert adds an op for a client unless its clock is already present.
// Returns true when the op was new.
func (s *opLogState) insert(clientID uint64, o op) bool {
	ops := s.clients[clientID]
	idx := sort.Search(len(ops), func(i int) bool { return ops[i].clock >= o.clock })
	if idx < len(ops) && ops[idx].clock == o.clock {
		return false
	}
	ops = append(ops, op{})
	copy(ops[idx+1:], ops[idx:])
	ops[idx] = o
	s.clients[clientID] = ops
	return true
}

type parsedOp struct {
	clientID uint64
	op       op
}

// parseOps decodes a full update buffer; any leftover or short read is a
// malformed update.
func parseOps(update []byte) ([]parsedOp, error) {
	var ops []parsedOp
	rest := update
	for len(rest) > 0 {
		clientID, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrMalformedUpdate
		}
		rest = rest[n:]

		clock, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrMalformedUpdate
		}
		rest = rest[n:]

		length, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrMalformedUpdate
		}
		rest = rest[n:]

		if uint64(len(rest)) < length {
			return nil, ErrMalformedUpdate
		}
		payload := make([]byte, length)
		copy(payload, rest[:length])
		rest = rest[length:]

		ops = append(ops, parsedOp{clientID: clientID, op: op{clock: clock, payload: payload}})
	}
	return ops, nil
}

// decodeStateVector parses a state vector into clientID → nextClock. A nil
// or empty vector decodes to the empty map (a fresh peer).
func decodeStateVector(vector []byte) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64)
	if len(vector) == 0 {
		return out, nil
	}

	count, n := binary.Uvarint(vector)
	if n <= 0 {
		return nil, ErrMalformedUpdate
	}
	rest := vector[n:]

	for i := uint64(0); i < count; i++ {
		id, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrMalformedUpdate
		}
		rest = rest[n:]

		next, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrMalformedUpdate
		}
		rest = rest[n:]

		out[id] = next
	}
	if len(rest) != 0 {
		return nil, ErrMalformedUpdate
	}
	return out, nil
}
