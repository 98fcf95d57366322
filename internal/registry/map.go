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

package registry

import (
	"sync"
	"sync/atomic"

	"batchinfer/internal/state"
)

// Map is a thin, typed wrapper over sync.Map, mirroring the counters field
// of etalazz-vsa's core.Store: lock-free reads and writes, with an
// explicit count kept alongside since sync.Map has no Len.
type Map struct {
	m     sync.Map
	count int64
}

func (m *Map) load(id string) (*state.Handle, bool) {
	v, ok := m.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*state.Handle), true
}

func (m *Map) storeIfAbsent(id string, h *state.Handle) bool {
	if _, loaded := m.m.LoadOrStore(id, h); loaded {
		return false
	}
	atomic.AddInt64(&m.count, 1)
	return true
}

func (m *Map) loadAndDelete(id string) (*state.Handle, bool) {
	v, ok := m.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	atomic.AddInt64(&m.count, -1)
	return v.(*state.Handle), true
}

func (m *Map) len() int {
	return int(atomic.LoadInt64(&m.count))
}
