// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package ws drives individual WebSocket connections: the two-phase
// handshake, the per-connection state machine from accept to close,
// keep-alive, inbound rate limiting, and periodic access re-checks.
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobbyquantum/inkweld-sub004/internal/auth"
	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/media"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/router"
)

// writeWait bounds a single frame or control write.
const writeWait = 10 * time.Second

// Transport is the connection surface the supervisors drive. Satisfied by
// *websocket.Conn; narrowed to an interface so sessions can be exercised
// against fakes.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Server holds the dependencies shared by every connection.
type Server struct {
	cfg    config.RealtimeConfig
	oracle auth.Oracle
	router *router.Router
	fanout *media.Fanout
}

// NewServer builds the connection layer.
func NewServer(cfg config.RealtimeConfig, oracle auth.Oracle, rt *router.Router, fanout *media.Fanout) *Server {
	return &Server{cfg: cfg, oracle: oracle, router: rt, fanout: fanout}
}

// closeWith sends an application close frame and tears the connection down.
// The close write is bounded by the close grace budget; the connection is
// forcibly closed either way.
func (s *Server) closeWith(conn Transport, code int, reason string) {
	deadline := time.Now().Add(s.cfg.CloseGrace)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
	if code >= 4000 {
		metrics.RecordClose(code)
	}
}
