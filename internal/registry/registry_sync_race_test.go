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

// Package registry's integration tests for concurrent Copy/Delete traffic
// against a shared name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"batchinfer/pkg/gpumodel"
)

// slowSyncer simulates a pool.Sync call that takes a moment, so concurrent
// Copy/Delete calls actually interleave with it rather than racing only on
// paper.
type slowSyncer struct {
	calls int64
}

func (s *slowSyncer) Sync(ctx context.Context, poolID, stateID string) error {
	atomic.AddInt64(&s.calls, 1)
	time.Sleep(time.Millisecond)
	return nil
}

// TestConcurrentCopiesOfOneSourceAllSucceedOrFailCleanly fires many
// concurrent shallow copies of the same resident source at distinct
// destination names and checks that every one succeeds and ends up
// registered under its own name, none left half-registered.
func TestConcurrentCopiesOfOneSourceAllSucceedOrFailCleanly(t *testing.T) {
	syncer := &slowSyncer{}
	r := New(gpumodel.VariantA, 16, syncer)
	h, err := r.Create("source")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Bind("pool-0", 0); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dstID := fmt.Sprintf("dst-%d", i)
			_, errs[i] = r.Copy(context.Background(), "source", dstID, true)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("copy %d: unexpected error %v", i, err)
		}
		if !r.Has(fmt.Sprintf("dst-%d", i)) {
			t.Fatalf("copy %d: destination not registered", i)
		}
	}
}

// TestConcurrentCopyToSameDestinationAdmitsExactlyOne fires many concurrent
// copies that all target the same destination name; exactly one must win
// and the rest must fail with ErrAlreadyExists, never silently overwrite.
func TestConcurrentCopyToSameDestinationAdmitsExactlyOne(t *testing.T) {
	r := New(gpumodel.VariantA, 16, nil)
	if _, err := r.Create("source"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	var successes int64
	var conflicts int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Copy(context.Background(), "source", "contested", false)
			switch {
			case err == nil:
				atomic.AddInt64(&successes, 1)
			case errors.Is(err, ErrAlreadyExists):
				atomic.AddInt64(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 success, got %d", successes)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
	}
}

// TestDeleteDuringConcurrentCopyNeverLeavesPartialState races Delete against
// Copy of the same source name and requires every outcome to be one of the
// well-defined errors, never a panic or a registered handle pointing at
// invalidated state.
func TestDeleteDuringConcurrentCopyNeverLeavesPartialState(t *testing.T) {
	r := New(gpumodel.VariantA, 16, nil)
	if _, err := r.Create("source"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = r.Delete("source")
	}()
	go func() {
		defer wg.Done()
		dst, err := r.Copy(context.Background(), "source", "dest", true)
		if err != nil && !errors.Is(err, ErrNotFound) {
			t.Errorf("unexpected copy error: %v", err)
			return
		}
		if err == nil && !dst.Valid() {
			t.Errorf("copy returned an already-invalid handle")
		}
	}()
	wg.Wait()
}
