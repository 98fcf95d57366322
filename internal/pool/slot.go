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

// PoolSlot is one GPU batch lane's bookkeeping: which session it currently
// belongs to, the token queue fed by that session's ticket, and the channel
// back out for logits.
type PoolSlot struct {
	index     int
	stateID   string
	handle    *state.Handle
	tokensIn  <-chan []uint32
	logitsOut chan<- *gpumodel.Logits
	closed    <-chan struct{}

	pending   []uint32
	submitted uint64
}

func (s *PoolSlot) free() bool { return s.handle == nil }

// drain pulls every token batch currently buffered in tokensIn into pending
// without blocking, so one loop tick picks up a whole burst at once.
func (s *PoolSlot) drain() {
	for {
		select {
		case toks, ok := <-s.tokensIn:
			if !ok {
				return
			}
			s.pending = append(s.pending, toks...)
			s.submitted += uint64(len(toks))
		default:
			return
		}
	}
}

// sessionClosed reports whether the caller has signaled it will submit no
// further tokens.
func (s *PoolSlot) sessionClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// idle reports whether the slot has nothing left to do this tick: no
// pending tokens and the session has told us it is done.
func (s *PoolSlot) idle() bool {
	return len(s.pending) == 0 && s.sessionClosed()
}

func (s *PoolSlot) reset() {
	s.stateID = ""
	s.handle = nil
	s.tokensIn = nil
	s.logitsOut = nil
	s.closed = nil
	s.pending = nil
	s.submitted = 0
}
