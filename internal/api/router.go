// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package api provides the HTTP surface of the coordination service: the
// two WebSocket upgrade endpoints plus health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/ws"
)

// Router builds the HTTP handler over the connection layer.
type Router struct {
	cfg      config.ServerConfig
	ws       *ws.Server
	upgrader websocket.Upgrader
}

// New creates the router.
func New(cfg config.ServerConfig, wsServer *ws.Server) *Router {
	return &Router{
		cfg: cfg,
		ws:  wsServer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
	}
}

// Handler assembles the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		if rt.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		}
		r.Get("/ws/yjs", rt.handleDocumentUpgrade)
		r.Get("/ws/media", rt.handleMediaUpgrade)
	})

	r.Get("/healthz", rt.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// handleDocumentUpgrade validates the documentId, upgrades, and hands the
// connection to the document session supervisor.
func (rt *Router) handleDocumentUpgrade(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseDocumentID(r.URL.Query().Get("documentId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logging.Debug().Err(err).Msg("document channel upgrade failed")
		return
	}
	rt.ws.ServeDocument(r.Context(), conn, key)
}

// handleMediaUpgrade validates the projectKey and hands the connection to
// the media session supervisor.
func (rt *Router) handleMediaUpgrade(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseProjectKey(r.URL.Query().Get("projectKey"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("media channel upgrade failed")
		return
	}
	rt.ws.ServeMedia(r.Context(), conn, key)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// originChecker permits the configured CORS origins on the WebSocket
// upgrade. "*" allows everything; otherwise the Origin header must match an
// allowed origin exactly. Requests without an Origin header (non-browser
// clients) are allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
