// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package coordinator implements the per-document coordination pipeline: one
// goroutine per document drains an inbox of attach, detach, and frame events
// in total order, applying updates to the CRDT state, coalescing persistence
// into trailing-edge batches, and broadcasting to the other peers.
//
// A coordinator is created by the project router on the first peer and
// released after the idle timeout with zero peers, or immediately when
// persistence degrades.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/crdt"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/protocol"
	"github.com/bobbyquantum/inkweld-sub004/internal/storage"
)

// ErrCoordinatorClosed reports an attach or frame aimed at a coordinator
// that has already been released. The router reacts by creating a fresh one.
var ErrCoordinatorClosed = errors.New("coordinator: closed")

// closeGoingAway is the standard WebSocket close code for server shutdown.
const closeGoingAway = 1001

type inboundFrame struct {
	peerID string
	frame  protocol.Frame
}

type attachReq struct {
	peer *Peer
	done chan struct{}
}

type awarenessEntry struct {
	payload []byte
	gen     uint64
}

// Coordinator is the single authoritative holder of one document's state.
// All fields below the channels are owned by the run goroutine.
type Coordinator struct {
	key       models.DocumentKey
	cfg       config.RealtimeConfig
	onRelease func()

	attachCh chan attachReq
	detachCh chan string
	frameCh  chan inboundFrame
	stopCh   chan struct{}
	done     chan struct{}

	ctx    context.Context
	state  crdt.State
	handle storage.Handle

	peers     map[string]*Peer
	awareness map[string]awarenessEntry

	batch      [][]byte
	batchBytes int
	batchTimer *time.Timer
	batchArmed bool
	idleTimer  *time.Timer
	idleArmed  bool

	// dirty is set once any update has been persisted since load; teardown
	// writes a compacted snapshot only when dirty.
	dirty bool

	log zerolog.Logger
}

// Start materializes the document from persistence and launches the run
// goroutine. onRelease is invoked exactly once, after the coordinator has
// fully shut down, so the router can drop its registry entry.
func Start(ctx context.Context, key models.DocumentKey, cfg config.RealtimeConfig,
	engine crdt.Engine, store storage.Store, onRelease func(),
) (*Coordinator, error) {
	handle, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}

	state := engine.NewState()
	if err := handle.LoadAll(ctx, func(update []byte) error {
		_, applyErr := state.ApplyUpdate(update)
		return applyErr
	}); err != nil {
		_ = handle.Close()
		return nil, err
	}

	c := &Coordinator{
		key:       key,
		cfg:       cfg,
		onRelease: onRelease,
		attachCh:  make(chan attachReq),
		detachCh:  make(chan string),
		frameCh:   make(chan inboundFrame),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		state:     state,
		handle:    handle,
		peers:     make(map[string]*Peer),
		awareness: make(map[string]awarenessEntry),
		log:       logging.With().Str("component", "coordinator").Str("document", key.String()).Logger(),
	}
	c.batchTimer = newStoppedTimer()
	c.idleTimer = newStoppedTimer()

	metrics.ActiveCoordinators.Inc()
	c.log.Info().Msg("coordinator started")
	go c.run(ctx)
	return c, nil
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

// Key returns the document this coordinator owns.
func (c *Coordinator) Key() models.DocumentKey { return c.key }

// Done is closed when the coordinator has released all resources.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Attach registers a peer and runs the join protocol: a server-origin sync
// step 1 carrying the coordinator's state vector, the current awareness
// snapshot, and an empty-awareness announcement to the other peers.
func (c *Coordinator) Attach(p *Peer) error {
	req := attachReq{peer: p, done: make(chan struct{})}
	select {
	case c.attachCh <- req:
		<-req.done
		return nil
	case <-c.done:
		return ErrCoordinatorClosed
	}
}

// Detach removes a peer. Idempotent; safe after release.
func (c *Coordinator) Detach(peerID string) {
	select {
	case c.detachCh <- peerID:
	case <-c.done:
	}
}

// HandleFrame submits a decoded frame from a peer to the pipeline.
func (c *Coordinator) HandleFrame(peerID string, f protocol.Frame) error {
	select {
	case c.frameCh <- inboundFrame{peerID: peerID, frame: f}:
		return nil
	case <-c.done:
		return ErrCoordinatorClosed
	}
}

// Stop requests a graceful shutdown: pending batches are flushed, state is
// snapshotted, and peers are closed with 1001.
func (c *Coordinator) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.done:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	// A coordinator is born with zero peers; the idle timer covers the
	// window before the first attach lands.
	c.armIdle()

	for {
		select {
		case req := <-c.attachCh:
			c.handleAttach(req)

		case peerID := <-c.detachCh:
			c.removePeer(peerID)

		case in := <-c.frameCh:
			if err := c.handleFrame(in); err != nil {
				c.degrade(err)
				return
			}

		case <-c.batchTimer.C:
			c.batchArmed = false
			if err := c.flush("interval"); err != nil {
				c.degrade(err)
				return
			}

		case <-c.idleTimer.C:
			c.idleArmed = false
			if len(c.peers) == 0 {
				c.teardown()
				return
			}

		case <-c.stopCh:
			c.shutdown()
			return

		case <-ctx.Done():
			c.shutdown()
			return
		}
	}
}

func (c *Coordinator) handleAttach(req attachReq) {
	defer close(req.done)
	p := req.peer
	c.peers[p.ID()] = p
	c.disarmIdle()

	// A peer evicted mid-join (backlog exhausted before its write pump
	// drains) ends the join sequence; its departure broadcast has already
	// gone out, so no announcement follows.
	if !c.deliver(p, protocol.EncodeKind(protocol.KindSyncStep1, c.state.EncodeStateVector())) {
		return
	}
	for _, entry := range c.awareness {
		if !c.deliver(p, protocol.EncodeKind(protocol.KindAwareness, entry.payload)) {
			return
		}
	}
	c.broadcast(protocol.EncodeKind(protocol.KindAwareness, nil), p.ID())

	c.log.Debug().Str("peer", p.ID()).Int("peers", len(c.peers)).Msg("peer attached")
}

// handleFrame runs one frame through apply -> persist-enqueue -> broadcast.
// A returned error means persistence degraded; everything else is handled by
// closing the offending peer.
func (c *Coordinator) handleFrame(in inboundFrame) error {
	p, ok := c.peers[in.peerID]
	if !ok {
		return nil // frame raced the peer's detach
	}
	metrics.FramesProcessed.WithLabelValues(in.frame.Kind.String()).Inc()

	switch in.frame.Kind {
	case protocol.KindSyncStep1:
		diff, err := c.state.EncodeStateAsUpdate(in.frame.Payload)
		if err != nil {
			c.evict(p, protocol.CloseProtocolError, "malformed state vector")
			return nil
		}
		c.deliver(p, protocol.EncodeKind(protocol.KindSyncStep2, diff))

	case protocol.KindSyncStep2, protocol.KindUpdate:
		if !p.Role().AtLeast(models.RoleEditor) {
			c.evict(p, protocol.CloseForbidden, "write requires editor role")
			return nil
		}
		applied, err := c.state.ApplyUpdate(in.frame.Payload)
		if err != nil {
			c.evict(p, protocol.CloseProtocolError, "malformed update")
			return nil
		}
		if len(applied) == 0 {
			return nil // fully redundant
		}
		if err := c.enqueuePersist(applied); err != nil {
			return err
		}
		// Sync step 2 rebroadcasts only the newly applied portion; a plain
		// update is forwarded as received.
		out := in.frame.Payload
		if in.frame.Kind == protocol.KindSyncStep2 {
			out = applied
		}
		c.broadcast(protocol.EncodeKind(protocol.KindUpdate, out), p.ID())

	case protocol.KindAwareness:
		if len(in.frame.Payload) > c.cfg.MaxAwarenessBytes {
			c.evict(p, protocol.CloseProtocolError, "awareness payload too large")
			return nil
		}
		entry := c.awareness[p.ID()]
		entry.payload = append([]byte{}, in.frame.Payload...)
		entry.gen++
		c.awareness[p.ID()] = entry
		c.broadcast(protocol.EncodeKind(protocol.KindAwareness, entry.payload), p.ID())
	}
	return nil
}

// enqueuePersist adds applied update bytes to the trailing-edge batch and
// flushes early when the byte cap trips.
func (c *Coordinator) enqueuePersist(applied []byte) error {
	c.batch = append(c.batch, applied)
	c.batchBytes += len(applied)

	if c.batchBytes >= c.cfg.MaxBatchBytes {
		c.disarmBatch()
		return c.flush("size")
	}
	if !c.batchArmed {
		c.batchTimer.Reset(c.cfg.BatchInterval)
		c.batchArmed = true
	}
	return nil
}

// flush appends the pending batch in order, one sequence id per update.
func (c *Coordinator) flush(trigger string) error {
	if len(c.batch) == 0 {
		return nil
	}
	start := time.Now()
	for _, update := range c.batch {
		if _, err := c.handle.Append(c.ctx, update); err != nil {
			return err
		}
		metrics.PersistedUpdates.Inc()
	}
	metrics.PersistBatchFlushes.WithLabelValues(trigger).Inc()
	metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())

	c.log.Debug().Int("updates", len(c.batch)).Int("bytes", c.batchBytes).
		Str("trigger", trigger).Msg("persist batch flushed")
	c.batch = nil
	c.batchBytes = 0
	c.dirty = true
	return nil
}

// broadcast enqueues a frame to every peer except the named one. A peer
// whose backlog is exhausted is evicted with 4008; no peer stalls the
// pipeline.
func (c *Coordinator) broadcast(frame []byte, except string) {
	for id, p := range c.peers {
		if id == except {
			continue
		}
		c.deliver(p, frame)
	}
}

// deliver enqueues one frame to one peer, evicting it with 4008 on an
// exhausted backlog. It reports whether the peer is still attached.
func (c *Coordinator) deliver(p *Peer, frame []byte) bool {
	if !p.enqueue(frame, c.cfg.PeerBacklogBytes) {
		metrics.BackpressureEvictions.Inc()
		c.log.Warn().Str("peer", p.ID()).Msg("peer send backlog exceeded")
		c.evict(p, protocol.CloseBackpressure, "send backlog exceeded")
		return false
	}
	metrics.BroadcastBytes.Add(float64(len(frame)))
	return true
}

// evict closes a peer with an application code and removes it.
func (c *Coordinator) evict(p *Peer, code int, reason string) {
	p.Close(code, reason)
	c.removePeer(p.ID())
}

// removePeer drops a peer and its awareness slot, broadcasts the departure
// to the remaining peers, and arms the idle timer when the set is empty.
func (c *Coordinator) removePeer(peerID string) {
	p, ok := c.peers[peerID]
	if !ok {
		return
	}
	delete(c.peers, peerID)
	delete(c.awareness, peerID)
	close(p.out)

	c.broadcast(protocol.EncodeKind(protocol.KindAwareness, nil), "")
	c.log.Debug().Str("peer", peerID).Int("peers", len(c.peers)).Msg("peer detached")

	if len(c.peers) == 0 {
		c.armIdle()
	}
}

// armIdle (re)starts the zero-peer teardown countdown.
func (c *Coordinator) armIdle() {
	c.disarmIdle()
	c.idleTimer.Reset(c.cfg.IdleTimeout)
	c.idleArmed = true
}

// disarmIdle stops the idle timer, draining a tick that fired but was not
// yet consumed so the next arm starts clean.
func (c *Coordinator) disarmIdle() {
	if !c.idleArmed {
		return
	}
	if !c.idleTimer.Stop() {
		<-c.idleTimer.C
	}
	c.idleArmed = false
}

// disarmBatch stops the trailing-edge flush timer ahead of an early flush.
func (c *Coordinator) disarmBatch() {
	if !c.batchArmed {
		return
	}
	if !c.batchTimer.Stop() {
		<-c.batchTimer.C
	}
	c.batchArmed = false
}

func (c *Coordinator) closeAllPeers(code int, reason string) {
	for id, p := range c.peers {
		delete(c.peers, id)
		close(p.out)
		p.Close(code, reason)
	}
	c.awareness = make(map[string]awarenessEntry)
}

// degrade handles a final persistence failure: every peer is closed with
// 4500 and the coordinator is torn down without a snapshot. The document is
// re-materialized from the persisted log on the next connect.
func (c *Coordinator) degrade(err error) {
	metrics.CoordinatorDegradations.Inc()
	c.log.Error().Err(err).Msg("persistence degraded, tearing down coordinator")
	c.closeAllPeers(protocol.CloseDegraded, "persistence degraded")
	_ = c.handle.Close()
	c.finish()
}

// teardown is the idle-timeout release: flush, snapshot, close.
func (c *Coordinator) teardown() {
	if err := c.flush("teardown"); err != nil {
		c.degrade(err)
		return
	}
	c.snapshot()
	_ = c.handle.Close()
	c.log.Info().Msg("coordinator released after idle timeout")
	c.finish()
}

// shutdown is the graceful server-stop path: peers are told to go away,
// pending work is flushed and snapshotted.
func (c *Coordinator) shutdown() {
	c.closeAllPeers(closeGoingAway, "server shutting down")
	if err := c.flush("teardown"); err != nil {
		metrics.CoordinatorDegradations.Inc()
		c.log.Error().Err(err).Msg("final flush failed during shutdown")
		_ = c.handle.Close()
		c.finish()
		return
	}
	c.snapshot()
	_ = c.handle.Close()
	c.log.Info().Msg("coordinator stopped")
	c.finish()
}

// snapshot compacts the persisted log to the materialized state. Runs only
// during teardown, never concurrently with writes.
func (c *Coordinator) snapshot() {
	if !c.dirty {
		return
	}
	materialized, err := c.state.EncodeStateAsUpdate(nil)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to materialize state for snapshot")
		return
	}
	if err := c.handle.Snapshot(c.ctx, materialized); err != nil {
		// Non-fatal: the uncompacted log still replays correctly.
		c.log.Warn().Err(err).Msg("snapshot write failed")
	}
}

func (c *Coordinator) finish() {
	close(c.done)
	metrics.ActiveCoordinators.Dec()
	if c.onRelease != nil {
		c.onRelease()
	}
}
