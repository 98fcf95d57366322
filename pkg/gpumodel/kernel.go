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

// Kernel is the opaque recurrent primitive a Model drives one token at a
// time. Implementations own the weight tensors (real deployments would hold
// a GPU-resident context here); Step must be safe to call repeatedly with
// the hidden buffer it returned on the previous call.
type Kernel interface {
	// Variant reports which architecture this kernel implements.
	Variant() Variant

	// Info reports this kernel's static shape.
	Info() Info

	// Step consumes a single token against hidden, returning the evolved
	// hidden state and the unnormalized logits over the vocabulary. hidden
	// must have length Info().StateWidth(); callers must not reuse the
	// slice passed in after the call returns.
	Step(token uint32, hidden []float32) (newHidden []float32, logits []float32)

	// NewState allocates a zeroed hidden-state buffer for one batch slot.
	NewState() []float32
}

// NewKernel constructs the kernel backing the given variant.
func NewKernel(v Variant, info Info) Kernel {
	switch v {
	case VariantB:
		return newVariantBKernel(info)
	default:
		return newVariantAKernel(info)
	}
}
