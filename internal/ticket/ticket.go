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

// Package ticket implements InferTicket: a scoped admission ticket that
// reserves one slot per named state across however many pools back them,
// and exposes a single synchronous Infer call across all of them at once.
package ticket

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"batchinfer/internal/state"
	"batchinfer/pkg/gpumodel"
)

// DefaultChannelBuffer is the minimum per-state channel depth spec.md §4.4
// calls for, so a burst of prompt tokens or a stalled consumer never
// deadlocks the pool's drain step.
const DefaultChannelBuffer = 64

// ErrAlreadyReleased is returned by Infer after a ticket's Release has
// already run.
var ErrAlreadyReleased = errors.New("ticket: already released")

// Admitter is the subset of BatchPool (or a multi-pool router) a Ticket
// needs in order to bind each state to a slot.
type Admitter interface {
	Admit(ctx context.Context, stateID string, handle *state.Handle, tokensIn <-chan []uint32, logitsOut chan<- *gpumodel.Logits, closed <-chan struct{}) error
}

// Ticket is a held admission for a fixed set of named states: one
// concurrency permit per state, plus that state's bounded token-in/
// logits-out channel pair.
type Ticket struct {
	sem    *semaphore.Weighted
	weight int64

	stateIDs  []string
	tokensOut []chan []uint32
	logitsIn  []chan *gpumodel.Logits
	closedCh  []chan struct{}

	mu       sync.Mutex
	released bool
}

// Acquire reserves one permit per state from sem, then admits every state
// into admitter. If any admission fails, every already-admitted state is
// released (its closed channel closed) and the semaphore weight given back
// before the error is returned; Acquire never leaves a partial ticket
// behind.
func Acquire(ctx context.Context, sem *semaphore.Weighted, admitter Admitter, stateIDs []string, handles []*state.Handle, channelBuffer int) (*Ticket, error) {
	if channelBuffer <= 0 {
		channelBuffer = DefaultChannelBuffer
	}
	weight := int64(len(stateIDs))
	if err := sem.Acquire(ctx, weight); err != nil {
		return nil, err
	}

	t := &Ticket{
		sem:       sem,
		weight:    weight,
		stateIDs:  append([]string(nil), stateIDs...),
		tokensOut: make([]chan []uint32, len(stateIDs)),
		logitsIn:  make([]chan *gpumodel.Logits, len(stateIDs)),
		closedCh:  make([]chan struct{}, len(stateIDs)),
	}

	for i, id := range stateIDs {
		t.tokensOut[i] = make(chan []uint32, channelBuffer)
		t.logitsIn[i] = make(chan *gpumodel.Logits, channelBuffer)
		t.closedCh[i] = make(chan struct{})

		if err := admitter.Admit(ctx, id, handles[i], t.tokensOut[i], t.logitsIn[i], t.closedCh[i]); err != nil {
			for j := 0; j <= i; j++ {
				close(t.closedCh[j])
			}
			sem.Release(weight)
			return nil, err
		}
	}
	return t, nil
}

// Infer sends one token batch per state (tokens[i] may be empty to mean
// "no new tokens this round, but still wait for completion of work already
// queued") and blocks until every state has produced its next logits.
func (t *Ticket) Infer(ctx context.Context, tokens [][]uint32) ([]*gpumodel.Logits, error) {
	t.mu.Lock()
	released := t.released
	t.mu.Unlock()
	if released {
		return nil, ErrAlreadyReleased
	}
	if len(tokens) != len(t.stateIDs) {
		return nil, errors.New("ticket: token batch count does not match ticket width")
	}

	for i, toks := range tokens {
		select {
		case t.tokensOut[i] <- toks:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]*gpumodel.Logits, len(t.stateIDs))
	for i := range t.stateIDs {
		select {
		case out[i] = <-t.logitsIn[i]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Release signals every admitted state that no further tokens are coming
// and returns the ticket's permits to the semaphore. Safe to call more than
// once; only the first call has effect.
func (t *Ticket) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	for _, ch := range t.closedCh {
		close(ch)
	}
	t.sem.Release(t.weight)
}

// StateIDs returns the ordered list of states this ticket holds slots for.
func (t *Ticket) StateIDs() []string {
	return append([]string(nil), t.stateIDs...)
}
