// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package router maps document keys to their single live coordinator.
//
// The coordinator registry is the only process-wide mutable state in the
// service; it lives here, behind a placement strategy that decides which
// project host owns a given project.
package router

import (
	"context"
	"errors"
	"sync"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/coordinator"
	"github.com/bobbyquantum/inkweld-sub004/internal/crdt"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/storage"
)

// attachRetries bounds the lookup-then-attach race against idle teardown.
const attachRetries = 4

// ErrRouterClosed reports an attach after Shutdown.
var ErrRouterClosed = errors.New("router: closed")

// Router owns coordinator placement and lifecycle. Coordinators are created
// lazily on the first peer of a document and remove themselves from their
// host when released.
type Router struct {
	ctx       context.Context
	cfg       config.RealtimeConfig
	engine    crdt.Engine
	store     storage.Store
	placement PlacementStrategy

	mu     sync.Mutex
	closed bool
}

// New builds a router. ctx is the service lifetime; coordinators started by
// this router shut down when it is canceled.
func New(ctx context.Context, cfg config.RealtimeConfig, engine crdt.Engine, store storage.Store) (*Router, error) {
	r := &Router{ctx: ctx, cfg: cfg, engine: engine, store: store}
	placement, err := newPlacement(r, cfg)
	if err != nil {
		return nil, err
	}
	r.placement = placement
	return r, nil
}

// Attach resolves (or creates) the coordinator for a document and registers
// the peer with it. The lookup can race an idle teardown; a refused attach
// is retried against a fresh coordinator.
func (r *Router) Attach(key models.DocumentKey, peer *coordinator.Peer) (*coordinator.Coordinator, error) {
	host := r.placement.HostFor(key.Project())
	for i := 0; i < attachRetries; i++ {
		co, err := host.coordinatorFor(key)
		if err != nil {
			return nil, err
		}
		if err := co.Attach(peer); err == nil {
			return co, nil
		}
	}
	return nil, errors.New("router: coordinator kept tearing down during attach")
}

// Shutdown stops every live coordinator and waits for each to release.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var live []*coordinator.Coordinator
	for _, host := range r.hosts() {
		live = append(live, host.snapshot()...)
	}
	for _, co := range live {
		co.Stop()
	}
	for _, co := range live {
		select {
		case <-co.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logging.Info().Int("coordinators", len(live)).Msg("router shut down")
	return nil
}

func (r *Router) hosts() []*ProjectHost {
	switch p := r.placement.(type) {
	case *LocalPlacement:
		return []*ProjectHost{p.host}
	case *HashedPlacement:
		return p.shards
	default:
		return nil
	}
}

// ProjectHost holds the documentKey -> coordinator map for the projects
// placed on it. The map is mutated only here, during create and release,
// under a short critical section.
type ProjectHost struct {
	router *Router

	mu   sync.Mutex
	docs map[string]*coordinator.Coordinator
}

func newProjectHost(r *Router) *ProjectHost {
	return &ProjectHost{router: r, docs: make(map[string]*coordinator.Coordinator)}
}

// coordinatorFor returns the live coordinator for a key, starting one if
// none exists. A coordinator found already released is replaced.
func (h *ProjectHost) coordinatorFor(key models.DocumentKey) (*coordinator.Coordinator, error) {
	r := h.router
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRouterClosed
	}
	r.mu.Unlock()

	k := key.String()
	h.mu.Lock()
	defer h.mu.Unlock()

	if co, ok := h.docs[k]; ok {
		select {
		case <-co.Done():
			delete(h.docs, k)
		default:
			return co, nil
		}
	}

	co, err := coordinator.Start(r.ctx, key, r.cfg, r.engine, r.store, func() {
		h.release(k)
	})
	if err != nil {
		return nil, err
	}
	h.docs[k] = co
	return co, nil
}

// release drops a registry entry once its coordinator has fully stopped.
// The Done check keeps a stale release from evicting a replacement.
func (h *ProjectHost) release(k string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.docs[k]; ok {
		select {
		case <-cur.Done():
			delete(h.docs, k)
		default:
		}
	}
}

func (h *ProjectHost) snapshot() []*coordinator.Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*coordinator.Coordinator, 0, len(h.docs))
	for _, co := range h.docs {
		out = append(out, co)
	}
	return out
}
