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

// Package gpumodel wraps the opaque GPU model kernel (forward pass and
// softmax) behind a small façade uniform across model variants.
package gpumodel

// Softmax applies a numerically stable softmax to each row independently.
// Rows of different length are allowed; a zero-length batch returns a
// zero-length result.
func Softmax(logits [][]float32) [][]float32 {
	out := make([][]float32, len(logits))
	for i, row := range logits {
		out[i] = softmaxRow(row)
	}
	return out
}

func softmaxRow(row []float32) []float32 {
	if len(row) == 0 {
		return []float32{}
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(row))
	var sum float32
	for i, v := range row {
		e := expf32(v - max)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		// Degenerate row (shouldn't happen with finite logits); fall back to
		// a uniform distribution rather than dividing by zero.
		u := 1.0 / float32(len(row))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
