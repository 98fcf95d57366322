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
	"context"
	"errors"
	"testing"
	"time"

	"batchinfer/internal/state"
	"batchinfer/internal/telemetry"
	"batchinfer/pkg/gpumodel"
)

func newTestPool(t *testing.T, capacity int) (*BatchPool, *gpumodel.Model) {
	t.Helper()
	info := gpumodel.Info{Variant: gpumodel.VariantA, NumEmbed: 6, Vocab: 10}
	model := gpumodel.NewModel(gpumodel.NewKernel(gpumodel.VariantA, info))
	p := New("test-pool", model, capacity, Options{
		TickInterval: time.Millisecond,
		Metrics:      telemetry.NoopPoolMetrics(),
	})
	p.Start()
	t.Cleanup(p.Stop)
	return p, model
}

func TestAdmitBindsFreeSlotAndForwardsTokens(t *testing.T) {
	p, _ := newTestPool(t, 2)

	h := state.New("sess-1", gpumodel.VariantA, 6)
	tokensIn := make(chan []uint32, 8)
	logitsOut := make(chan *gpumodel.Logits, 8)
	closed := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Admit(ctx, "sess-1", h, tokensIn, logitsOut, closed); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	r, err := h.Residency()
	if err != nil || !r.Bound || r.PoolID != "test-pool" {
		t.Fatalf("expected handle bound to test-pool, got %+v err=%v", r, err)
	}

	tokensIn <- []uint32{1}
	select {
	case logits := <-logitsOut:
		if len(logits.Values) != 10 {
			t.Fatalf("expected 10 vocab logits, got %d", len(logits.Values))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for logits")
	}
}

func TestPoolFullReturnsErrPoolFull(t *testing.T) {
	p, _ := newTestPool(t, 1)

	h1 := state.New("sess-1", gpumodel.VariantA, 6)
	closed1 := make(chan struct{})
	ctx := context.Background()
	if err := p.Admit(ctx, "sess-1", h1, make(chan []uint32), make(chan *gpumodel.Logits, 1), closed1); err != nil {
		t.Fatalf("Admit 1: %v", err)
	}

	h2 := state.New("sess-2", gpumodel.VariantA, 6)
	closed2 := make(chan struct{})
	err := p.Admit(ctx, "sess-2", h2, make(chan []uint32), make(chan *gpumodel.Logits, 1), closed2)
	if !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestClosedSessionEventuallyEvicted(t *testing.T) {
	p, _ := newTestPool(t, 1)

	h := state.New("sess-1", gpumodel.VariantA, 6)
	tokensIn := make(chan []uint32, 4)
	logitsOut := make(chan *gpumodel.Logits, 4)
	closed := make(chan struct{})

	ctx := context.Background()
	if err := p.Admit(ctx, "sess-1", h, tokensIn, logitsOut, closed); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	tokensIn <- []uint32{1}
	<-logitsOut
	close(closed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r, err := h.Residency()
		if err == nil && !r.Bound {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected slot to be evicted after session closed")
}

func TestSyncOnNonResidentStateIsNoop(t *testing.T) {
	p, _ := newTestPool(t, 1)
	if err := p.Sync(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected nil error for non-resident sync, got %v", err)
	}
}

func TestSyncFlushesLiveBufferIntoHandle(t *testing.T) {
	p, _ := newTestPool(t, 1)

	h := state.New("sess-1", gpumodel.VariantA, 6)
	tokensIn := make(chan []uint32, 4)
	logitsOut := make(chan *gpumodel.Logits, 4)
	closed := make(chan struct{})

	ctx := context.Background()
	if err := p.Admit(ctx, "sess-1", h, tokensIn, logitsOut, closed); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	tokensIn <- []uint32{5}
	<-logitsOut

	before, _ := h.Snapshot()
	if err := p.Sync(ctx, "sess-1"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	after, _ := h.Snapshot()

	allZero := true
	for _, v := range after {
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatalf("expected Sync to capture the post-token hidden buffer, got all zeros")
	}
	_ = before
}
