// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package main is the entry point for the Inkweld document coordination
// service.
//
// The service coordinates real-time collaborative editing: each open
// document gets a single in-process coordinator that applies CRDT updates,
// persists them in batches to BadgerDB, and fans out updates and awareness
// to the document's connected peers over WebSocket. A second WebSocket
// channel carries per-project media notifications.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional config file (Koanf v2)
//  2. Storage: BadgerDB-backed per-document update logs
//  3. Auth: JWT verification plus the project/grant directory
//  4. Router: coordinator placement and lifecycle
//  5. Media fanout: per-project notification delivery
//  6. HTTP server: the /ws/yjs and /ws/media upgrade endpoints
//
// All long-lived components run under a Suture supervisor tree.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP listener
// stops accepting connections, every live connection is closed with code
// 1001, and each coordinator flushes its pending batch and snapshots before
// the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bobbyquantum/inkweld-sub004/internal/api"
	"github.com/bobbyquantum/inkweld-sub004/internal/auth"
	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/crdt"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/media"
	"github.com/bobbyquantum/inkweld-sub004/internal/router"
	"github.com/bobbyquantum/inkweld-sub004/internal/storage"
	"github.com/bobbyquantum/inkweld-sub004/internal/supervisor"
	"github.com/bobbyquantum/inkweld-sub004/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors surface through the default logger; the configured
		// one is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("storage_backend", cfg.Storage.Backend).
		Str("placement", cfg.Realtime.Placement).
		Msg("Starting document coordination service")

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	verifier, err := auth.NewTokenVerifier(cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token verification")
	}

	// The directory shares the data volume with the document logs; the
	// memory backend keeps it in-memory as well.
	directoryPath := ""
	if cfg.Storage.Backend == "badger" {
		directoryPath = filepath.Join(cfg.Storage.Path, "directory")
	}
	directory, err := auth.OpenDirectory(directoryPath, verifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open project directory")
	}

	// rootCtx is the service lifetime; canceling it begins shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := router.New(rootCtx, cfg.Realtime, crdt.NewOpLogEngine(), store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize coordinator router")
	}

	fanout := media.NewFanout()
	wsServer := ws.NewServer(cfg.Realtime, directory, rt, fanout)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.New(cfg.Server, wsServer).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if badgerStore, ok := store.(*storage.BadgerStore); ok {
		tree.AddStorageService(supervisor.NewGCService(badgerStore, cfg.Storage.GCInterval))
	}
	tree.AddRealtimeService(supervisor.NewRunnerService("media-fanout", fanout))
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", httpServer.Addr).Msg("Listening")
	treeErr := <-tree.ServeBackground(rootCtx)

	// Shutdown: the HTTP service has already closed the listener; drain the
	// coordinators, then release storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logging.Err(err).Msg("Coordinator shutdown incomplete")
	}

	if err := store.Close(); err != nil {
		logging.Err(err).Msg("Error closing storage")
	}
	if err := directory.Close(); err != nil {
		logging.Err(err).Msg("Error closing project directory")
	}

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}
