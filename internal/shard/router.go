// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shard routes a named state to one of several BatchPool instances
// by rendezvous (highest random weight) hashing, so a deployment running
// one pool per GPU context can place and relocate sessions without a
// central assignment table: every caller that knows the pool id set agrees
// on the same placement independently.
package shard

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"batchinfer/internal/pool"
	"batchinfer/internal/state"
	"batchinfer/pkg/gpumodel"
)

// ErrNoPools is returned when a Router has no pools registered.
var ErrNoPools = errors.New("shard: no pools configured")

// ErrUnknownPool is returned by Sync when asked about a pool id the router
// does not know.
var ErrUnknownPool = errors.New("shard: unknown pool id")

// Router dispatches by state id across a fixed set of named pools. It
// implements both ticket.Admitter (so a Ticket can be acquired against the
// whole shard set rather than one pool) and registry.PoolSyncer (so
// Registry.Copy can flush a resident state regardless of which pool it
// landed on).
type Router struct {
	mu    sync.RWMutex
	pools map[string]*pool.BatchPool
	rv    *rendezvous.Rendezvous
}

// NewRouter builds a Router over the given named pools. Pool names double
// as the rendezvous hashing node set; adding or removing a pool reshuffles
// only the states whose HRW winner changes, not the whole keyspace.
func NewRouter(pools map[string]*pool.BatchPool) *Router {
	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{
		pools: pools,
		rv:    rendezvous.New(names, xxhash.Sum64String),
	}
}

// Start launches every pool's background loop.
func (r *Router) Start() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		p.Start()
	}
}

// Stop stops every pool's background loop.
func (r *Router) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		p.Stop()
	}
}

// PoolFor returns the pool a given state id hashes to, or nil if no pools
// are configured.
func (r *Router) PoolFor(stateID string) *pool.BatchPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.pools) == 0 {
		return nil
	}
	name := r.rv.Lookup(stateID)
	return r.pools[name]
}

// Admit routes to stateID's HRW-selected pool and admits it there.
func (r *Router) Admit(ctx context.Context, stateID string, handle *state.Handle, tokensIn <-chan []uint32, logitsOut chan<- *gpumodel.Logits, closed <-chan struct{}) error {
	p := r.PoolFor(stateID)
	if p == nil {
		return ErrNoPools
	}
	return p.Admit(ctx, stateID, handle, tokensIn, logitsOut, closed)
}

// Sync implements registry.PoolSyncer, dispatching directly to poolID
// (the pool a Handle's Residency recorded) rather than re-deriving
// placement from the hash ring, since residency always wins over where the
// ring would place a fresh session.
func (r *Router) Sync(ctx context.Context, poolID string, stateID string) error {
	r.mu.RLock()
	p, ok := r.pools[poolID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownPool
	}
	return p.Sync(ctx, stateID)
}
