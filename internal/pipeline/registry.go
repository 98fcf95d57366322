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

package pipeline

import (
	"errors"
	"sync"
)

// ErrComponentNotFound is returned by Registry.Borrow when id was never
// registered.
var ErrComponentNotFound = errors.New("pipeline: component not found")

type entry[T any] struct {
	mu    sync.Mutex
	value T
}

// Registry holds named, reusable components of one kind (all Transformers,
// all Samplers, ...) and hands them out one at a time: Borrow blocks until
// any other pipeline currently holding id releases it, mirroring the
// exclusive RefMut borrow the original implementation took out of its
// DashMap for the lifetime of one request.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// NewRegistry constructs an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*entry[T])}
}

// Register adds or replaces the component stored under id. Intended to run
// at startup before any pipeline borrows id.
func (r *Registry[T]) Register(id string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &entry[T]{value: value}
}

// Has reports whether id is registered.
func (r *Registry[T]) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Borrow exclusively locks id's component and returns it along with a
// release function the caller must call exactly once when done.
func (r *Registry[T]) Borrow(id string) (T, func(), error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		var zero T
		return zero, nil, ErrComponentNotFound
	}
	e.mu.Lock()
	return e.value, e.mu.Unlock, nil
}

// Delete removes id. It takes the entry's own lock first, so it blocks
// until any pipeline currently borrowing id releases it, then reports
// whether id had been registered at all.
func (r *Registry[T]) Delete(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.mu.Unlock()
	return true
}

// Reset borrows id, clears it via clear, and releases it. Intended for
// components whose Clear forms part of their contract (Transformer,
// Sampler, Normalizer); Terminal has no Clear and so has no Reset.
func (r *Registry[T]) Reset(id string, clear func(T)) error {
	v, release, err := r.Borrow(id)
	if err != nil {
		return err
	}
	defer release()
	clear(v)
	return nil
}
