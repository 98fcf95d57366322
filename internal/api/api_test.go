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

package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"batchinfer/internal/pipeline"
	"batchinfer/internal/pipeline/components"
	"batchinfer/internal/pool"
	"batchinfer/internal/registry"
	"batchinfer/internal/shard"
	"batchinfer/internal/telemetry"
	"batchinfer/internal/tokenizer"
	"batchinfer/pkg/gpumodel"
)

func newTestAPI(t *testing.T) *InferenceAPI {
	t.Helper()
	info := gpumodel.Info{Variant: gpumodel.VariantA, NumEmbed: 8, Vocab: 256}
	model := gpumodel.NewModel(gpumodel.NewKernel(gpumodel.VariantA, info))
	p := pool.New("pool-a", model, 4, pool.Options{
		TickInterval: time.Millisecond,
		Metrics:      telemetry.NoopPoolMetrics(),
	})
	p.Start()
	t.Cleanup(p.Stop)

	router := shard.NewRouter(map[string]*pool.BatchPool{"pool-a": p})
	router.Start()
	t.Cleanup(router.Stop)

	reg := registry.New(gpumodel.VariantA, 8, router)
	comps := pipeline.NewRegistries()
	comps.Transformers.Register("rep", components.NewRepetitionPenalty(1.0, 1.0))
	comps.Samplers.Register("nucleus", components.NewNucleusSampler(0.9, 1.0, 7))
	comps.Terminals.Register("max4", components.NewMaxTokensTerminal(4, nil))
	comps.Normalizers.Register("softmax", components.SoftmaxNormalizer{})

	sem := semaphore.NewWeighted(4)
	return New(reg, router, sem, comps, tokenizer.ByteTokenizer{}, 8)
}

func TestCreateStateThenGetSucceeds(t *testing.T) {
	a := newTestAPI(t)
	h, err := a.CreateState("s1")
	if err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	if h.ID() != "s1" {
		t.Fatalf("expected id s1, got %s", h.ID())
	}
	if !a.Registry.Has("s1") {
		t.Fatalf("expected registry to report s1 present")
	}
}

func TestCreateStateRejectsDuplicate(t *testing.T) {
	a := newTestAPI(t)
	if _, err := a.CreateState("dup"); err != nil {
		t.Fatalf("first CreateState: %v", err)
	}
	if _, err := a.CreateState("dup"); !errors.Is(err, registry.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDeleteStateInvalidatesHandle(t *testing.T) {
	a := newTestAPI(t)
	h, err := a.CreateState("gone")
	if err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	if err := a.DeleteState("gone"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if h.Valid() {
		t.Fatalf("expected handle to be invalidated after delete")
	}
	if err := a.DeleteState("gone"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCopyStateShallowSharesSnapshot(t *testing.T) {
	a := newTestAPI(t)
	src, err := a.CreateState("src")
	if err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	dst, err := a.CopyState(context.Background(), "src", "dst", true)
	if err != nil {
		t.Fatalf("CopyState: %v", err)
	}
	if !src.SharesSnapshotWith(dst) {
		t.Fatalf("expected shallow copy to share its snapshot with the source")
	}
}

func TestUpdateStateRejectsMismatchedLengths(t *testing.T) {
	a := newTestAPI(t)
	if _, err := a.CreateState("u1"); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	err := a.UpdateState(context.Background(), []string{"u1"}, [][]uint32{{1}, {2}})
	if err == nil {
		t.Fatalf("expected a length-mismatch error")
	}
}

func TestUpdateStateRejectsEmptyTokenList(t *testing.T) {
	a := newTestAPI(t)
	if _, err := a.CreateState("u1"); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.UpdateState(ctx, []string{"u1"}, [][]uint32{{}})
	if !errors.Is(err, ErrEmptyTokenList) {
		t.Fatalf("expected ErrEmptyTokenList, got %v", err)
	}
}

func TestUpdateStateAdvancesNamedStates(t *testing.T) {
	a := newTestAPI(t)
	if _, err := a.CreateState("u1"); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	if _, err := a.CreateState("u2"); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.UpdateState(ctx, []string{"u1", "u2"}, [][]uint32{{1, 2}, {3}}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
}
