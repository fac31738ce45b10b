// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package ws

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bobbyquantum/inkweld-sub004/internal/coordinator"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/protocol"
)

// ServeDocument owns one CRDT-channel connection from accept to close. It
// blocks until the connection ends.
func (s *Server) ServeDocument(ctx context.Context, conn Transport, key models.DocumentKey) {
	metrics.ActiveConnections.WithLabelValues("document").Inc()
	defer metrics.ActiveConnections.WithLabelValues("document").Dec()
	defer conn.Close()

	hs, ok := s.runHandshake(ctx, conn, key.Project(), "document")
	if !ok {
		return
	}

	peer := coordinator.NewPeer(uuid.NewString(), hs.role, func(code int, reason string) {
		s.closeWith(conn, code, reason)
	})
	co, err := s.router.Attach(key, peer)
	if err != nil {
		logging.Err(err).Str("document", key.String()).Msg("failed to attach peer")
		s.closeWith(conn, protocol.CloseDegraded, "coordinator unavailable")
		return
	}

	log := logging.With().Str("document", key.String()).Str("peer", peer.ID()).Logger()
	log.Debug().Str("role", hs.role.String()).Msg("document session established")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer co.Detach(peer.ID())

	// wroteCh tells the re-check loop the peer has applied a mutating
	// frame; a role demotion below editor then also ends the session.
	wroteCh := make(chan struct{}, 1)

	go s.writePump(sessionCtx, conn, peer)
	go s.recheckLoop(sessionCtx, conn, hs, wroteCh)

	s.readLoop(sessionCtx, conn, co, peer, wroteCh)
	log.Debug().Msg("document session ended")
}

// readLoop forwards decoded frames to the coordinator until the connection
// errors or the coordinator refuses frames.
func (s *Server) readLoop(ctx context.Context, conn Transport, co *coordinator.Coordinator,
	peer *coordinator.Peer, wroteCh chan struct{},
) {
	wrote := false
	limit := rate.Inf
	if s.cfg.FrameRate > 0 {
		limit = rate.Limit(s.cfg.FrameRate)
	}
	limiter := rate.NewLimiter(limit, max(s.cfg.FrameBurst, 1))

	conn.SetReadLimit(int64(s.cfg.MaxBatchBytes))
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.closeWith(conn, protocol.CloseAuthError, "keep-alive timeout")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if messageType != websocket.BinaryMessage {
			s.closeWith(conn, protocol.CloseProtocolError, "unexpected text frame")
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.closeWith(conn, protocol.CloseProtocolError, err.Error())
			return
		}

		// Throttling a flooding client here propagates as TCP
		// back-pressure instead of dropping frames.
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		if frame.Kind.Mutates() && !wrote {
			wrote = true
			select {
			case wroteCh <- struct{}{}:
			default:
			}
		}

		if err := co.HandleFrame(peer.ID(), frame); err != nil {
			// Coordinator released underneath us (idle race or
			// degradation); the peer close callback already ran.
			return
		}
	}
}

// writePump drains the peer's outbound frames and keeps the connection
// alive with periodic pings.
func (s *Server) writePump(ctx context.Context, conn Transport, peer *coordinator.Peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-peer.Outbound():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				_ = conn.Close()
				return
			}
			peer.Ack(len(frame))

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// recheckLoop re-runs the access check on a live connection so revocations
// and demotions take effect without waiting for a reconnect.
func (s *Server) recheckLoop(ctx context.Context, conn Transport, hs handshake, wroteCh chan struct{}) {
	if s.cfg.RecheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RecheckInterval)
	defer ticker.Stop()

	hasWritten := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-wroteCh:
			hasWritten = true
		case <-ticker.C:
			role, err := s.oracle.CheckAccess(ctx, hs.principal, hs.project.ID)
			if err != nil {
				// Transient oracle failure; keep the session and try
				// again on the next tick.
				logging.Err(err).Msg("access re-check failed")
				continue
			}
			if !role.AtLeast(models.RoleViewer) || (hasWritten && !role.AtLeast(models.RoleEditor)) {
				s.closeWith(conn, protocol.CloseForbidden, "access revoked")
				return
			}
		}
	}
}
