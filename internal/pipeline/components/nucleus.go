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

// Package components supplies stock Transformer/Sampler/Normalizer/Terminal
// implementations a deployment can register by name: a top-p ("nucleus")
// sampler, a repetition-penalty transformer, a softmax normalizer, and a
// max-tokens terminal.
package components

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// ErrEmptyDistribution is returned by NucleusSampler.Sample when handed a
// zero-length logits slice.
var ErrEmptyDistribution = errors.New("components: empty logits")

// NucleusSampler keeps only the smallest prefix of probabilities (sorted
// descending) whose cumulative mass reaches TopP, rescales by temperature,
// and draws one token from what remains.
type NucleusSampler struct {
	TopP float32
	Temp float32
	rng  *rand.Rand
}

// NewNucleusSampler constructs a NucleusSampler with its own random source
// so concurrent samplers never contend on the global lock math/rand's
// package-level functions take.
func NewNucleusSampler(topP, temp float32, seed int64) *NucleusSampler {
	return &NucleusSampler{TopP: topP, Temp: temp, rng: rand.New(rand.NewSource(seed))}
}

func (s *NucleusSampler) Update(tokens []uint32) error { return nil }

func (s *NucleusSampler) Clear() {}

func (s *NucleusSampler) Sample(probs []float32) (uint32, error) {
	if len(probs) == 0 {
		return 0, ErrEmptyDistribution
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	sorted := make([]float32, len(probs))
	for i, idx := range order {
		sorted[i] = probs[idx]
	}

	cutoff := len(sorted) - 1
	var cum float32
	for i, p := range sorted {
		cum += p
		if cum >= s.TopP {
			cutoff = i
			break
		}
	}
	candidates := sorted[:cutoff+1]

	if s.Temp != 1.0 && s.Temp > 0 {
		for i, p := range candidates {
			candidates[i] = float32(math.Pow(float64(p), 1.0/float64(s.Temp)))
		}
	}

	var total float64
	for _, p := range candidates {
		total += float64(p)
	}
	if total <= 0 {
		return uint32(order[0]), nil
	}
	r := s.rng.Float64() * total
	var acc float64
	for i, p := range candidates {
		acc += float64(p)
		if r <= acc {
			return uint32(order[i]), nil
		}
	}
	return uint32(order[len(candidates)-1]), nil
}
