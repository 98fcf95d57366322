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

// Package pool's integration tests for the full admit/generate/evict
// lifecycle across several concurrent sessions sharing a small pool.
package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"batchinfer/internal/state"
	"batchinfer/pkg/gpumodel"
)

// runSession admits a fresh named session, feeds it n tokens one at a time
// waiting for the matching logits each time, then closes and confirms
// eventual eviction.
func runSession(t *testing.T, p *BatchPool, id string, n int) {
	t.Helper()
	h := state.New(id, gpumodel.VariantA, 6)
	tokensIn := make(chan []uint32, n+1)
	logitsOut := make(chan *gpumodel.Logits, n+1)
	closed := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Admit(ctx, id, h, tokensIn, logitsOut, closed); err != nil {
		t.Errorf("%s: Admit: %v", id, err)
		return
	}

	for i := 0; i < n; i++ {
		tokensIn <- []uint32{uint32(i + 1)}
		select {
		case <-logitsOut:
		case <-time.After(5 * time.Second):
			t.Errorf("%s: timed out waiting for logits on step %d", id, i)
			return
		}
	}
	close(closed)

	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := h.Residency()
		if err == nil && !r.Bound {
			return
		}
		if time.Now().After(deadline) {
			t.Errorf("%s: slot not evicted after close", id)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// TestManyConcurrentSessionsShareASmallPool runs more sessions than the pool
// has slots. Admit returns ErrPoolFull instead of waiting for a slot, so the
// sessions take a permit from a semaphore sized to the capacity first, as
// the ticket layer does in front of a pool.
func TestManyConcurrentSessionsShareASmallPool(t *testing.T) {
	p, _ := newTestPool(t, 3)

	permits := make(chan struct{}, 3)
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			permits <- struct{}{}
			defer func() { <-permits }()
			runSession(t, p, fmt.Sprintf("sess-%d", i), 4)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatalf("concurrent sessions did not all complete")
	}
}

func TestCopyOnWriteHandleCanBeAdmittedIndependently(t *testing.T) {
	p, _ := newTestPool(t, 2)

	parent := state.New("parent", gpumodel.VariantA, 6)
	tokensIn := make(chan []uint32, 2)
	logitsOut := make(chan *gpumodel.Logits, 2)
	closed := make(chan struct{})
	ctx := context.Background()
	if err := p.Admit(ctx, "parent", parent, tokensIn, logitsOut, closed); err != nil {
		t.Fatalf("Admit parent: %v", err)
	}
	tokensIn <- []uint32{7}
	<-logitsOut
	if err := p.Sync(ctx, "parent"); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	clone, err := parent.CopyShallow("clone")
	if err != nil {
		t.Fatalf("CopyShallow: %v", err)
	}

	cloneTokensIn := make(chan []uint32, 2)
	cloneLogitsOut := make(chan *gpumodel.Logits, 2)
	cloneClosed := make(chan struct{})
	if err := p.Admit(ctx, "clone", clone, cloneTokensIn, cloneLogitsOut, cloneClosed); err != nil {
		t.Fatalf("Admit clone: %v", err)
	}
	cloneTokensIn <- []uint32{8}
	select {
	case <-cloneLogitsOut:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for clone's logits")
	}
	close(cloneClosed)
	close(closed)
}
