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

// variantBKernel splits its recurrent state into two halves: a time-mix
// accumulator (as in variantAKernel) and a channel-mix accumulator that
// reacts to the token's immediate embedding rather than decaying it. Stands
// in for the original's V5 architecture, which carries a richer per-layer
// state than V4.
type variantBKernel struct {
	info       Info
	timeDecay  float32
	chanDecay  float32
}

func newVariantBKernel(info Info) *variantBKernel {
	info.Variant = VariantB
	return &variantBKernel{info: info, timeDecay: 0.9, chanDecay: 0.6}
}

func (k *variantBKernel) Variant() Variant { return VariantB }

func (k *variantBKernel) Info() Info { return k.info }

func (k *variantBKernel) NewState() []float32 {
	return make([]float32, k.info.StateWidth())
}

func (k *variantBKernel) Step(token uint32, hidden []float32) ([]float32, []float32) {
	n := k.info.NumEmbed
	timeState := hidden[:n]
	chanState := hidden[n:]

	next := make([]float32, 2*n)
	nextTime := next[:n]
	nextChan := next[n:]

	for j := 0; j < n; j++ {
		e := embedWeight(token, j)
		nextTime[j] = timeState[j]*k.timeDecay + e
		nextChan[j] = chanState[j]*k.chanDecay + e*e
	}

	logits := make([]float32, k.info.Vocab)
	for v := 0; v < k.info.Vocab; v++ {
		var sum float32
		for j := 0; j < n; j++ {
			sum += nextTime[j]*projWeight(v, j) + nextChan[j]*projWeight(v, j+n)
		}
		logits[v] = sum
	}
	return next, logits
}
