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
	"context"
	"errors"
	"testing"

	"batchinfer/pkg/gpumodel"
)

func TestCreateGetDelete(t *testing.T) {
	r := New(gpumodel.VariantA, 4, nil)

	if _, err := r.Create("alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("alpha"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if !r.Has("alpha") {
		t.Fatalf("expected Has(alpha) true")
	}
	if _, err := r.Get("alpha"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.Has("alpha") {
		t.Fatalf("expected Has(alpha) false after delete")
	}
	if _, err := r.Get("alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Delete("alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestCopyShallowSharesSnapshot(t *testing.T) {
	r := New(gpumodel.VariantA, 4, nil)
	if _, err := r.Create("alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dst, err := r.Copy(context.Background(), "alpha", "beta", true)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if dst.ID() != "beta" {
		t.Fatalf("expected new handle id beta, got %s", dst.ID())
	}

	src, _ := r.Get("alpha")
	if !src.SharesSnapshotWith(dst) {
		t.Fatalf("expected shallow copy to share snapshot")
	}
}

func TestCopyRejectsExistingDestination(t *testing.T) {
	r := New(gpumodel.VariantA, 4, nil)
	if _, err := r.Create("alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("beta"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Copy(context.Background(), "alpha", "beta", false); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCopyMissingSource(t *testing.T) {
	r := New(gpumodel.VariantA, 4, nil)
	if _, err := r.Copy(context.Background(), "ghost", "beta", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeSyncer struct {
	calls []string
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, poolID, stateID string) error {
	f.calls = append(f.calls, poolID+"/"+stateID)
	return f.err
}

func TestCopySyncsResidentSourceBeforeCloning(t *testing.T) {
	syncer := &fakeSyncer{}
	r := New(gpumodel.VariantA, 4, syncer)
	h, err := r.Create("alpha")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Bind("pool-0", 2); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := r.Copy(context.Background(), "alpha", "beta", true); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(syncer.calls) != 1 || syncer.calls[0] != "pool-0/alpha" {
		t.Fatalf("expected one sync call for the resident source, got %v", syncer.calls)
	}
}

func TestCopySkipsSyncWhenNotResident(t *testing.T) {
	syncer := &fakeSyncer{}
	r := New(gpumodel.VariantA, 4, syncer)
	if _, err := r.Create("alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Copy(context.Background(), "alpha", "beta", true); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(syncer.calls) != 0 {
		t.Fatalf("expected no sync calls for a non-resident source, got %v", syncer.calls)
	}
}

func TestCopyPropagatesSyncerError(t *testing.T) {
	boom := errors.New("boom")
	syncer := &fakeSyncer{err: boom}
	r := New(gpumodel.VariantA, 4, syncer)
	h, err := r.Create("alpha")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Bind("pool-0", 0); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := r.Copy(context.Background(), "alpha", "beta", true); !errors.Is(err, boom) {
		t.Fatalf("expected sync error to propagate, got %v", err)
	}
	if r.Has("beta") {
		t.Fatalf("destination must not exist after a failed sync")
	}
}
