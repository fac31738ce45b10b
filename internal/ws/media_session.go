// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package ws

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// mediaSendBuffer bounds a media subscriber's unsent events. Media traffic
// is sparse; a stalled subscriber is simply evicted.
const mediaSendBuffer = 64

var errSubscriberStalled = errors.New("ws: media subscriber stalled")

// mediaSubscriber adapts one connection to the fanout's subscriber
// contract. Send never blocks: a full buffer reports failure and the fanout
// evicts.
type mediaSubscriber struct {
	id   string
	send chan []byte
}

func (m *mediaSubscriber) ID() string { return m.id }

func (m *mediaSubscriber) Send(event []byte) error {
	select {
	case m.send <- event:
		return nil
	default:
		return errSubscriberStalled
	}
}

// ServeMedia owns one media-channel connection: same handshake contract as
// the document channel, then plain JSON event delivery with a text
// ping/pong keep-alive. It blocks until the connection ends.
func (s *Server) ServeMedia(ctx context.Context, conn Transport, key models.ProjectKey) {
	metrics.ActiveConnections.WithLabelValues("media").Inc()
	defer metrics.ActiveConnections.WithLabelValues("media").Dec()
	defer conn.Close()

	hs, ok := s.runHandshake(ctx, conn, key, "media")
	if !ok {
		return
	}

	sub := &mediaSubscriber{id: uuid.NewString(), send: make(chan []byte, mediaSendBuffer)}
	s.fanout.Subscribe(key, sub)
	defer s.fanout.Unsubscribe(key, sub.id)

	log := logging.With().Str("project", key.String()).Str("subscriber", sub.id).Logger()
	log.Debug().Str("role", hs.role.String()).Msg("media session established")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.mediaWritePump(sessionCtx, conn, sub)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Msg("media session ended")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		// Text "ping" is the only inbound message the channel defines.
		if messageType == websocket.TextMessage && string(data) == "ping" {
			_ = sub.Send([]byte("pong"))
		}
	}
}

// mediaWritePump writes fanout events and keep-alive pings.
func (s *Server) mediaWritePump(ctx context.Context, conn Transport, sub *mediaSubscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
				_ = conn.Close()
				return
			}

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
