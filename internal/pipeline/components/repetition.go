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

package components

// RepetitionPenalty discourages the sampler from repeating tokens already
// seen in the sequence, scaled by how often each token has occurred.
type RepetitionPenalty struct {
	Penalty float32
	Decay   float32

	counts map[uint32]float32
}

// NewRepetitionPenalty constructs a RepetitionPenalty. decay in (0,1] makes
// older repeats count for less than recent ones; 1 disables decay.
func NewRepetitionPenalty(penalty, decay float32) *RepetitionPenalty {
	return &RepetitionPenalty{Penalty: penalty, Decay: decay, counts: make(map[uint32]float32)}
}

func (t *RepetitionPenalty) Update(tokens []uint32) error {
	if t.counts == nil {
		t.counts = make(map[uint32]float32)
	}
	for k := range t.counts {
		t.counts[k] *= t.Decay
	}
	for _, tok := range tokens {
		t.counts[tok] += 1
	}
	return nil
}

func (t *RepetitionPenalty) Transform(logits []float32) []float32 {
	out := make([]float32, len(logits))
	copy(out, logits)
	for tok, count := range t.counts {
		if int(tok) >= len(out) {
			continue
		}
		out[tok] -= t.Penalty * count
	}
	return out
}

func (t *RepetitionPenalty) Clear() {
	t.counts = make(map[uint32]float32)
}
