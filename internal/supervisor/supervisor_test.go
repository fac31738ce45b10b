// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 30.0, cfg.FailureDecay)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(testSlogLogger(), TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

// blockingRunner signals when Serve starts and blocks until canceled.
type blockingRunner struct {
	started chan struct{}
}

func (b *blockingRunner) Serve(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(testSlogLogger(), DefaultTreeConfig())

	runner := &blockingRunner{started: make(chan struct{})}
	tree.AddRealtimeService(NewRunnerService("test-runner", runner))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("service never started")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

// fakeHTTPServer blocks in ListenAndServe until Shutdown is called, like
// *http.Server.
type fakeHTTPServer struct {
	listenErr error
	closed    chan struct{}
	shutdowns atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{closed: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.closed
	return errors.New("http: Server closed")
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.closed)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), srv.shutdowns.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestHTTPServiceListenerFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("listen tcp :8787: address already in use")
	svc := NewHTTPService(srv, time.Second)

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

// countingGC records RunGC invocations.
type countingGC struct {
	runs atomic.Int32
	err  error
}

func (c *countingGC) RunGC() error {
	c.runs.Add(1)
	return c.err
}

func TestGCServiceRunsPeriodically(t *testing.T) {
	gc := &countingGC{}
	svc := NewGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	assert.Eventually(t, func() bool {
		return gc.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestGCServiceSurvivesErrors(t *testing.T) {
	gc := &countingGC{err: errors.New("value log gc unavailable")}
	svc := NewGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Errors are logged, not fatal; the loop keeps ticking.
	assert.Eventually(t, func() bool {
		return gc.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestServiceNames(t *testing.T) {
	assert.Equal(t, "http-server", NewHTTPService(newFakeHTTPServer(), 0).String())
	assert.Equal(t, "storage-gc", NewGCService(&countingGC{}, 0).String())
	assert.Equal(t, "media-fanout", NewRunnerService("media-fanout", &blockingRunner{started: make(chan struct{})}).String())
}
