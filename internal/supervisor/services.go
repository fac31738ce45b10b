// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
)

// HTTPServer matches the *http.Server lifecycle methods the service needs,
// keeping the wrapper testable with fakes.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService wraps the HTTP listener as a supervised service. It bridges
// http.Server's blocking ListenAndServe to suture's context-aware Serve:
// start the listener in a goroutine, wait for cancellation or a listener
// error, then shut down gracefully within the configured budget.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService creates the HTTP listener service.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// result of a graceful shutdown and is not treated as a failure.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The serve context is canceled; shutdown needs its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// GarbageCollector matches the storage backend's value-log GC entry point.
type GarbageCollector interface {
	RunGC() error
}

// GCService periodically runs the storage backend's value-log garbage
// collection. Backends without reclaimable space report nothing to do, which
// is not an error.
type GCService struct {
	store    GarbageCollector
	interval time.Duration
}

// NewGCService creates the storage GC service.
func NewGCService(store GarbageCollector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{store: store, interval: interval}
}

// Serve implements suture.Service.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.store.RunGC(); err != nil {
				logging.Err(err).Msg("storage garbage collection failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *GCService) String() string { return "storage-gc" }

// Runner matches long-lived components that block in Serve until the
// context ends, such as the media fanout.
type Runner interface {
	Serve(ctx context.Context) error
}

// RunnerService adapts a Runner into a named supervised service.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps a blocking component for supervision.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.runner.Serve(ctx)
}

func (r *RunnerService) String() string { return r.name }
