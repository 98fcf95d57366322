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

package pool

import (
	"batchinfer/internal/state"
	"batchinfer/pkg/gpumodel"
)

// admitRequest asks the pool's loop goroutine to bind a session's Handle to
// a free slot. tokensIn/logitsOut are owned by the caller (normally an
// internal/ticket.Ticket); the pool only ever reads tokensIn and writes
// logitsOut.
type admitRequest struct {
	stateID   string
	handle    *state.Handle
	tokensIn  <-chan []uint32
	logitsOut chan<- *gpumodel.Logits
	closed    <-chan struct{}
	admitted  chan error
}

// syncRequest asks the pool's loop goroutine to flush a resident slot's live
// hidden buffer back into its Handle's snapshot, without evicting it. This
// is the sentinel spec.md's registry.Copy relies on to observe a
// consistent view of a state that is currently bound to a pool.
type syncRequest struct {
	stateID string
	done    chan error
}
