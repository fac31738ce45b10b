// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package protocol implements the CRDT wire framing used on the document
// WebSocket channel.
//
// Binary frames are self-delimited: a single-byte kind tag followed by a
// uvarint length prefix and the opaque payload. Text frames carry the
// handshake control strings (bearer token in, auth status out) and are not
// handled here beyond the status literals.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies a binary frame type.
type Kind byte

const (
	// KindSyncStep1 asks the receiver to compute the complement of the
	// carried state vector. Payload: opaque state vector bytes.
	KindSyncStep1 Kind = 0x00

	// KindSyncStep2 delivers the missing updates for a prior step 1.
	KindSyncStep2 Kind = 0x01

	// KindUpdate carries an incremental delta to apply and rebroadcast.
	KindUpdate Kind = 0x02

	// KindAwareness carries ephemeral presence bytes. Broadcast, never
	// persisted.
	KindAwareness Kind = 0x03
)

// String returns the metric-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSyncStep1:
		return "sync_step_1"
	case KindSyncStep2:
		return "sync_step_2"
	case KindUpdate:
		return "update"
	case KindAwareness:
		return "awareness"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// valid reports whether the tag is a known frame kind.
func (k Kind) valid() bool {
	return k <= KindAwareness
}

// Mutates reports whether applying this frame changes document state and
// therefore requires an editor role.
func (k Kind) Mutates() bool {
	return k == KindSyncStep2 || k == KindUpdate
}

// Frame is one decoded protocol message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// ProtocolError reports a malformed frame. Callers must close the
// connection with close code 4002.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Encode serializes a frame: tag byte, uvarint payload length, payload.
func Encode(f Frame) []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(f.Payload))
	buf = append(buf, byte(f.Kind))
	buf = binary.AppendUvarint(buf, uint64(len(f.Payload)))
	return append(buf, f.Payload...)
}

// EncodeKind is shorthand for Encode with a kind and payload.
func EncodeKind(kind Kind, payload []byte) []byte {
	return Encode(Frame{Kind: kind, Payload: payload})
}

// Decode parses a single frame from data. One WebSocket binary message
// carries exactly one frame; trailing bytes are rejected.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, &ProtocolError{Reason: "empty frame"}
	}

	kind := Kind(data[0])
	if !kind.valid() {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("unknown tag 0x%02x", data[0])}
	}

	length, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return Frame{}, &ProtocolError{Reason: "malformed length prefix"}
	}

	body := data[1+n:]
	if uint64(len(body)) < length {
		return Frame{}, &ProtocolError{
			Reason: fmt.Sprintf("truncated frame: want %d payload bytes, have %d", length, len(body)),
		}
	}
	if uint64(len(body)) > length {
		return Frame{}, &ProtocolError{
			Reason: fmt.Sprintf("trailing bytes after frame: %d extra", uint64(len(body))-length),
		}
	}

	return Frame{Kind: kind, Payload: body}, nil
}

// Handshake control literals exchanged as text frames.
const (
	// StatusAuthenticated is the single outbound text frame sent after a
	// successful handshake.
	StatusAuthenticated = "authenticated"

	accessDeniedPrefix = "access-denied:"
)

// DenyReason enumerates the documented handshake denial reasons.
type DenyReason string

const (
	DenyInvalidToken    DenyReason = "invalid-token"
	DenyProjectNotFound DenyReason = "project-not-found"
	DenyForbidden       DenyReason = "forbidden"
	DenyError           DenyReason = "error"
)

// AccessDenied formats the outbound denial text frame for a reason.
func AccessDenied(reason DenyReason) string {
	return accessDeniedPrefix + string(reason)
}
