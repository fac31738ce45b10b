// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package router

import (
	"fmt"
	"hash/fnv"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// PlacementStrategy binds every project key to exactly one project host, so
// that all documents of a project share a host and each document has at most
// one coordinator. The local strategy keeps a single process-wide host; the
// hashed strategy spreads projects over a fixed shard ring, which also
// spreads the host mutexes under load.
type PlacementStrategy interface {
	HostFor(key models.ProjectKey) *ProjectHost
}

// LocalPlacement is the single-host strategy: one registry for the whole
// process.
type LocalPlacement struct {
	host *ProjectHost
}

func (p *LocalPlacement) HostFor(models.ProjectKey) *ProjectHost {
	return p.host
}

// HashedPlacement routes each project key to one of a fixed set of shards by
// FNV-1a hash. Deterministic: the same project always lands on the same
// shard.
type HashedPlacement struct {
	shards []*ProjectHost
}

func (p *HashedPlacement) HostFor(key models.ProjectKey) *ProjectHost {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// newPlacement builds the configured strategy.
func newPlacement(r *Router, cfg config.RealtimeConfig) (PlacementStrategy, error) {
	switch cfg.Placement {
	case "local":
		return &LocalPlacement{host: newProjectHost(r)}, nil
	case "hashed":
		shards := make([]*ProjectHost, cfg.PlacementShards)
		for i := range shards {
			shards[i] = newProjectHost(r)
		}
		return &HashedPlacement{shards: shards}, nil
	default:
		return nil, fmt.Errorf("router: unknown placement strategy %q", cfg.Placement)
	}
}
