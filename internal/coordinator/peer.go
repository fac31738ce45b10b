// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// outboundBuffer is the per-peer send channel capacity in frames. The byte
// cap in RealtimeConfig.PeerBacklogBytes is the authoritative limit; the
// channel just bounds the frame count.
const outboundBuffer = 256

// Peer is one connection's membership in a coordinator. The coordinator
// enqueues encoded frames; the connection supervisor drains Outbound in its
// write pump and acknowledges sent bytes so the backlog accounting stays
// honest.
type Peer struct {
	id   string
	role models.Role

	out     chan []byte
	pending atomic.Int64

	closeOnce sync.Once
	closeFn   func(code int, reason string)
}

// NewPeer builds a peer. closeFn initiates connection close with an
// application close code; it must be safe to call from the coordinator
// goroutine and must not block.
func NewPeer(id string, role models.Role, closeFn func(code int, reason string)) *Peer {
	return &Peer{
		id:      id,
		role:    role,
		out:     make(chan []byte, outboundBuffer),
		closeFn: closeFn,
	}
}

// ID returns the peer's session id.
func (p *Peer) ID() string { return p.id }

// Role returns the role the peer held at handshake.
func (p *Peer) Role() models.Role { return p.role }

// Outbound is the channel of encoded frames to write to the connection.
// The coordinator closes it when the peer is detached or evicted.
func (p *Peer) Outbound() <-chan []byte { return p.out }

// Ack records that n frame bytes were written to the connection, freeing
// backlog budget.
func (p *Peer) Ack(n int) {
	p.pending.Add(-int64(n))
}

// Close initiates connection close exactly once.
func (p *Peer) Close(code int, reason string) {
	p.closeOnce.Do(func() {
		if p.closeFn != nil {
			p.closeFn(code, reason)
		}
	})
}

// enqueue queues a frame without blocking. It reports false when the byte
// backlog or the channel buffer is exhausted; the caller must then evict the
// peer. Only the coordinator goroutine enqueues, so enqueue never races the
// channel close in evict.
func (p *Peer) enqueue(frame []byte, limit int) bool {
	if p.pending.Load()+int64(len(frame)) > int64(limit) {
		return false
	}
	select {
	case p.out <- frame:
		p.pending.Add(int64(len(frame)))
		return true
	default:
		return false
	}
}
