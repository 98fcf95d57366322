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

package gpumodel

import (
	"errors"
	"testing"
)

func testInfo(v Variant) Info {
	return Info{Variant: v, NumEmbed: 8, Vocab: 12}
}

func TestModelForwardReturnsOnFirstCompletedSlot(t *testing.T) {
	info := testInfo(VariantA)
	m := NewModel(NewKernel(VariantA, info))
	st := m.NewState(3)

	tokens := [][]uint32{
		{1},
		{2, 3, 4},
		{5, 6},
	}
	out, err := m.Forward(tokens, st)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out[0] == nil {
		t.Fatalf("slot 0 should have produced logits after one step")
	}
	if out[1] != nil {
		t.Fatalf("slot 1 should not have finished yet")
	}
	if out[2] != nil {
		t.Fatalf("slot 2 should not have finished yet")
	}
	if len(tokens[0]) != 0 {
		t.Fatalf("slot 0 queue should be fully drained, got %v", tokens[0])
	}
	if len(tokens[1]) != 2 {
		t.Fatalf("slot 1 should have one token consumed, got %v", tokens[1])
	}
	if len(tokens[2]) != 1 {
		t.Fatalf("slot 2 should have one token consumed, got %v", tokens[2])
	}
}

func TestModelForwardDrainsUntilAllEmpty(t *testing.T) {
	info := testInfo(VariantA)
	m := NewModel(NewKernel(VariantA, info))
	st := m.NewState(1)

	tokens := [][]uint32{{1, 2, 3}}
	for len(tokens[0]) > 0 {
		out, err := m.Forward(tokens, st)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if len(tokens[0]) == 0 && out[0] == nil {
			t.Fatalf("expected logits once the queue drains")
		}
	}
}

func TestModelForwardBatchSizeMismatch(t *testing.T) {
	info := testInfo(VariantA)
	m := NewModel(NewKernel(VariantA, info))
	st := m.NewState(2)

	_, err := m.Forward([][]uint32{{1}}, st)
	if !errors.Is(err, ErrBatchSizeMismatch) {
		t.Fatalf("expected ErrBatchSizeMismatch, got %v", err)
	}
}

func TestBlitSameVariantSucceeds(t *testing.T) {
	info := testInfo(VariantA)
	m := NewModel(NewKernel(VariantA, info))
	st := m.NewState(2)

	tokens := [][]uint32{{1, 2}, {}}
	if _, err := m.Forward(tokens, st); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	dst := m.NewState(1)
	if err := m.Blit(st, dst, 0, 0); err != nil {
		t.Fatalf("Blit: %v", err)
	}

	srcSnap, _ := st.Snapshot(0)
	dstSnap, _ := dst.Snapshot(0)
	if len(srcSnap) != len(dstSnap) {
		t.Fatalf("blit length mismatch: %d vs %d", len(srcSnap), len(dstSnap))
	}
	for i := range srcSnap {
		if srcSnap[i] != dstSnap[i] {
			t.Fatalf("blit value mismatch at %d: %v vs %v", i, srcSnap[i], dstSnap[i])
		}
	}
}

func TestBlitVariantMismatch(t *testing.T) {
	aModel := NewModel(NewKernel(VariantA, testInfo(VariantA)))
	bModel := NewModel(NewKernel(VariantB, testInfo(VariantB)))

	aState := aModel.NewState(1)
	bState := bModel.NewState(1)

	err := aModel.Blit(aState, bState, 0, 0)
	if !errors.Is(err, ErrVariantMismatch) {
		t.Fatalf("expected ErrVariantMismatch, got %v", err)
	}
}

func TestVariantBStateWidthDoublesEmbed(t *testing.T) {
	info := testInfo(VariantB)
	st := NewState(info, 1)
	buf, err := st.Slot(0)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if len(buf) != info.NumEmbed*2 {
		t.Fatalf("expected width %d, got %d", info.NumEmbed*2, len(buf))
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	rows := Softmax([][]float32{{1, 2, 3}, {0, 0, 0}})
	for _, row := range rows {
		var sum float32
		for _, v := range row {
			sum += v
		}
		if sum < 0.999 || sum > 1.001 {
			t.Fatalf("softmax row does not sum to 1: %v (sum=%f)", row, sum)
		}
	}
}
