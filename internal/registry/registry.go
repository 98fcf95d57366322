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

// Package registry maps session-chosen names to state.Handle instances:
// create, look up, delete, and copy (shallow or deep) a named inference
// state, the way etalazz-vsa's core.Store manages named VSA counters.
package registry

import (
	"context"
	"errors"

	"batchinfer/internal/state"
	"batchinfer/pkg/gpumodel"
)

// ErrAlreadyExists is returned by Create and Copy when the destination name
// is already in use.
var ErrAlreadyExists = errors.New("registry: name already exists")

// ErrNotFound is returned when an operation names a state that does not
// exist (or was already deleted).
var ErrNotFound = errors.New("registry: name not found")

// PoolSyncer lets the registry flush a resident state's live buffer back to
// its Handle before a Copy reads it, without the registry importing the pool
// package. The shard Router implements this, forwarding to the Sync of the
// BatchPool named by poolID.
type PoolSyncer interface {
	Sync(ctx context.Context, poolID string, stateID string) error
}

// Registry is the named store of inference states for one model variant.
// It is safe for concurrent use.
type Registry struct {
	handles Map
	variant gpumodel.Variant
	width   int
	syncer  PoolSyncer
}

// New creates a Registry for the given variant and per-slot buffer width.
// syncer may be nil if no pool ever binds handles from this registry (e.g.
// in tests).
func New(variant gpumodel.Variant, width int, syncer PoolSyncer) *Registry {
	return &Registry{variant: variant, width: width, syncer: syncer}
}

// Create allocates a new zeroed state under id.
func (r *Registry) Create(id string) (*state.Handle, error) {
	h := state.New(id, r.variant, r.width)
	if !r.handles.storeIfAbsent(id, h) {
		return nil, ErrAlreadyExists
	}
	return h, nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*state.Handle, error) {
	h, ok := r.handles.load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.handles.load(id)
	return ok
}

// Delete removes id, invalidating its handle so any goroutine still holding
// a reference observes state.ErrInvalidHandle on its next call.
func (r *Registry) Delete(id string) error {
	h, ok := r.handles.loadAndDelete(id)
	if !ok {
		return ErrNotFound
	}
	h.Invalidate()
	return nil
}

// Copy creates dstID as a copy of srcID. If the source is currently resident
// in a pool, Copy first asks the registered PoolSyncer to flush the live
// buffer back into the source handle; this sync happens with no registry
// lock held, since sync.Map never holds one across a call out.
//
// shallow selects copy-on-write sharing (state.Handle.CopyShallow) over an
// immediate independent copy (state.Handle.CopyDeep).
func (r *Registry) Copy(ctx context.Context, srcID, dstID string, shallow bool) (*state.Handle, error) {
	src, ok := r.handles.load(srcID)
	if !ok {
		return nil, ErrNotFound
	}

	if r.syncer != nil {
		if residency, err := src.Residency(); err == nil && residency.Bound {
			if err := r.syncer.Sync(ctx, residency.PoolID, srcID); err != nil {
				return nil, err
			}
		}
	}

	var (
		dst *state.Handle
		err error
	)
	if shallow {
		dst, err = src.CopyShallow(dstID)
	} else {
		dst, err = src.CopyDeep(dstID)
	}
	if err != nil {
		if errors.Is(err, state.ErrInvalidHandle) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !r.handles.storeIfAbsent(dstID, dst) {
		dst.Invalidate()
		return nil, ErrAlreadyExists
	}
	return dst, nil
}

// Len reports the number of currently registered states. Intended for
// telemetry gauges, not for hot-path decisions.
func (r *Registry) Len() int {
	return r.handles.len()
}
