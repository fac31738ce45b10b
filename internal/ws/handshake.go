// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobbyquantum/inkweld-sub004/internal/auth"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/protocol"
)

// handshake is the authenticated context a connection proceeds with.
type handshake struct {
	principal models.Principal
	project   models.Project
	role      models.Role
}

// runHandshake drives the two-phase handshake on a fresh connection: the
// single first inbound text frame carries the bearer token; the single
// outbound text frame is "authenticated" or "access-denied:<reason>". On
// failure the connection has already been closed with the documented code
// and the metrics recorded.
func (s *Server) runHandshake(ctx context.Context, conn Transport, key models.ProjectKey, channel string) (handshake, bool) {
	result := func(r string) {
		metrics.HandshakeResults.WithLabelValues(channel, r).Inc()
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	messageType, token, err := conn.ReadMessage()
	if err != nil {
		result("timeout")
		s.closeWith(conn, protocol.CloseHandshakeTimeout, "no auth token received")
		return handshake{}, false
	}
	if messageType != websocket.TextMessage {
		result("error")
		s.closeWith(conn, protocol.CloseHandshakeTimeout, "first frame must be the auth token")
		return handshake{}, false
	}

	deny := func(reason protocol.DenyReason, code int, metric string) {
		result(metric)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.AccessDenied(reason)))
		s.closeWith(conn, code, string(reason))
	}

	principal, err := s.oracle.VerifyToken(ctx, string(token))
	if err != nil {
		deny(protocol.DenyInvalidToken, protocol.CloseHandshakeTimeout, "invalid-token")
		return handshake{}, false
	}

	project, err := s.oracle.ResolveProject(ctx, key.Owner, key.Slug)
	if errors.Is(err, auth.ErrProjectNotFound) {
		deny(protocol.DenyProjectNotFound, protocol.CloseProjectNotFound, "project-not-found")
		return handshake{}, false
	}
	if err != nil {
		logging.Err(err).Str("project", key.String()).Msg("project resolution failed")
		deny(protocol.DenyError, protocol.CloseAuthError, "error")
		return handshake{}, false
	}

	role, err := s.oracle.CheckAccess(ctx, principal, project.ID)
	if err != nil {
		logging.Err(err).Str("project", key.String()).Msg("access check failed")
		deny(protocol.DenyError, protocol.CloseAuthError, "error")
		return handshake{}, false
	}
	if !role.AtLeast(models.RoleViewer) {
		deny(protocol.DenyForbidden, protocol.CloseForbidden, "forbidden")
		return handshake{}, false
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.StatusAuthenticated)); err != nil {
		result("error")
		_ = conn.Close()
		return handshake{}, false
	}
	result("authenticated")

	return handshake{principal: principal, project: project, role: role}, true
}
