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

package gpumodel

import "sync"

// State holds the per-slot recurrent hidden buffers for one resident batch
// of a given variant. A pool owns one State per GPU slot set; the state
// registry owns the long-lived per-session copies that get blitted into and
// out of a pool's State on admission and eviction.
type State struct {
	mu      sync.RWMutex
	info    Info
	buffers [][]float32
}

// NewState allocates a State with n zeroed slots for the given variant.
func NewState(info Info, n int) *State {
	s := &State{info: info, buffers: make([][]float32, n)}
	width := info.StateWidth()
	for i := range s.buffers {
		s.buffers[i] = make([]float32, width)
	}
	return s
}

func (s *State) Variant() Variant { return s.info.Variant }

func (s *State) Info() Info { return s.info }

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

// Slot returns the live buffer backing slot i. Callers that mutate it (a
// Model driving Kernel.Step) must hold no other reference to the returned
// slice past their next call into State.
func (s *State) Slot(i int) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.buffers) {
		return nil, ErrSlotOutOfRange
	}
	return s.buffers[i], nil
}

// SetSlot replaces slot i's buffer wholesale, as Model.Forward does after
// each kernel step.
func (s *State) SetSlot(i int, buf []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.buffers) {
		return ErrSlotOutOfRange
	}
	s.buffers[i] = buf
	return nil
}

// Reset zeroes slot i in place.
func (s *State) Reset(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.buffers) {
		return ErrSlotOutOfRange
	}
	s.buffers[i] = make([]float32, s.info.StateWidth())
	return nil
}

// Snapshot returns an independent copy of slot i, suitable for a registry
// entry to hold onto after the pool that produced it moves on.
func (s *State) Snapshot(i int) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.buffers) {
		return nil, ErrSlotOutOfRange
	}
	out := make([]float32, len(s.buffers[i]))
	copy(out, s.buffers[i])
	return out, nil
}

// Blit copies srcSlot of s into dstSlot of dst. It fails with
// ErrVariantMismatch if the two states were produced by different variants;
// the original Rust implementation made this failure mode explicit rather
// than silently truncating or zero-padding mismatched tensors.
func (s *State) Blit(dst *State, srcSlot, dstSlot int) error {
	if s.info.Variant != dst.info.Variant {
		return ErrVariantMismatch
	}
	snap, err := s.Snapshot(srcSlot)
	if err != nil {
		return err
	}
	return dst.SetSlot(dstSlot, snap)
}
