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

package state

import (
	"errors"
	"sync"

	"batchinfer/pkg/gpumodel"
)

// ErrInvalidHandle is returned by any operation on a Handle after Delete or
// Invalidate has run. A deleted name must never be observed to do useful
// work again, even by a goroutine racing the delete.
var ErrInvalidHandle = errors.New("state: handle invalidated")

// Residency records which pool slot, if any, currently holds this handle's
// live hidden buffer. A handle with no residency exists only as its
// sharedSnapshot.
type Residency struct {
	PoolID string
	Slot   int
	Bound  bool
}

// Handle is a named, long-lived recurrent inference state. It is safe for
// concurrent use; every accessor takes the handle's own lock.
type Handle struct {
	mu       sync.RWMutex
	id       string
	variant  gpumodel.Variant
	snap     *sharedSnapshot
	resident Residency
	invalid  bool
}

// New creates a Handle over a freshly zeroed buffer of the given variant and
// width.
func New(id string, variant gpumodel.Variant, width int) *Handle {
	return &Handle{
		id:      id,
		variant: variant,
		snap:    newSharedSnapshot(make([]float32, width)),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Variant() gpumodel.Variant { return h.variant }

// Valid reports whether the handle has not yet been invalidated.
func (h *Handle) Valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.invalid
}

// Invalidate marks the handle permanently unusable and releases its
// snapshot reference. Safe to call more than once.
func (h *Handle) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid {
		return
	}
	h.invalid = true
	h.snap.release()
}

// Residency returns the handle's current pool binding, if any.
func (h *Handle) Residency() (Residency, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.invalid {
		return Residency{}, ErrInvalidHandle
	}
	return h.resident, nil
}

// Bind records that the handle's live buffer now lives in poolID's slot.
func (h *Handle) Bind(poolID string, slot int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid {
		return ErrInvalidHandle
	}
	h.resident = Residency{PoolID: poolID, Slot: slot, Bound: true}
	return nil
}

// Unbind clears residency, e.g. once a pool evicts the slot back into the
// handle's snapshot.
func (h *Handle) Unbind() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid {
		return ErrInvalidHandle
	}
	h.resident = Residency{}
	return nil
}

// Snapshot returns a defensive copy of the handle's current off-pool
// buffer. It reflects the last value written by WriteSnapshot; it does not
// reach into a pool slot the handle happens to be bound to.
func (h *Handle) Snapshot() ([]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.invalid {
		return nil, ErrInvalidHandle
	}
	return h.snap.bytes(), nil
}

// WriteSnapshot privatizes the handle's snapshot (if shared with a sibling
// from a shallow copy) and overwrites it with data, which the caller must
// not mutate afterward.
func (h *Handle) WriteSnapshot(data []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid {
		return ErrInvalidHandle
	}
	h.snap.release()
	h.snap = newSharedSnapshot(data)
	return nil
}

// CopyDeep returns a new Handle with newID holding an independent copy of
// h's current snapshot.
func (h *Handle) CopyDeep(newID string) (*Handle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.invalid {
		return nil, ErrInvalidHandle
	}
	return &Handle{
		id:      newID,
		variant: h.variant,
		snap:    newSharedSnapshot(h.snap.bytes()),
	}, nil
}

// CopyShallow returns a new Handle with newID sharing h's sharedSnapshot
// under copy-on-write: the buffer is not duplicated until one of the two
// handles is next written to via WriteSnapshot or a pool eviction that
// calls it.
func (h *Handle) CopyShallow(newID string) (*Handle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.invalid {
		return nil, ErrInvalidHandle
	}
	return &Handle{
		id:      newID,
		variant: h.variant,
		snap:    h.snap.retain(),
	}, nil
}

// SharesSnapshotWith reports whether h and other currently share the same
// underlying sharedSnapshot (i.e. neither has been written to since a
// shallow copy bound them together). Exposed only for tests.
func (h *Handle) SharesSnapshotWith(other *Handle) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	return h.snap == other.snap
}
