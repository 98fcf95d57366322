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

// Logits is the unnormalized output distribution for one batch slot on one
// forward pass.
type Logits struct {
	Values []float32
}

// Model is the uniform façade a pool drives regardless of which variant's
// Kernel backs it.
type Model struct {
	kernel Kernel
}

// NewModel wraps kernel in a Model façade.
func NewModel(kernel Kernel) *Model {
	return &Model{kernel: kernel}
}

func (m *Model) Variant() Variant { return m.kernel.Variant() }

func (m *Model) Info() Info { return m.kernel.Info() }

// NewState allocates a State sized for n batch slots of this model's
// variant.
func (m *Model) NewState(n int) *State {
	return NewState(m.kernel.Info(), n)
}

// Forward drives the kernel across every slot's queued tokens, one token per
// slot per internal step, until at least one slot has fully consumed its
// queue and produced logits. It then returns immediately rather than
// draining every slot to completion, so a single very long sequence cannot
// stall slots that only had one or two tokens queued.
//
// tokens[i] is mutated in place: entries are popped off the front as they
// are consumed, so on return tokens[i] holds exactly the suffix this call
// did not get to. A slot with an empty queue is skipped and never appears in
// the result.
func (m *Model) Forward(tokens [][]uint32, st *State) ([]*Logits, error) {
	if len(tokens) != st.Len() {
		return nil, ErrBatchSizeMismatch
	}

	out := make([]*Logits, len(tokens))
	for {
		progressed := false
		for i := range tokens {
			if len(tokens[i]) == 0 || out[i] != nil {
				continue
			}
			hidden, err := st.Slot(i)
			if err != nil {
				return nil, err
			}
			tok := tokens[i][0]
			tokens[i] = tokens[i][1:]
			newHidden, logits := m.kernel.Step(tok, hidden)
			if err := st.SetSlot(i, newHidden); err != nil {
				return nil, err
			}
			progressed = true
			if len(tokens[i]) == 0 {
				out[i] = &Logits{Values: logits}
			}
		}
		if !progressed {
			return out, nil
		}
		for _, o := range out {
			if o != nil {
				return out, nil
			}
		}
	}
}

// Blit copies one slot of src into dst, provided both share this model's
// variant. dst need not belong to the same Model instance.
func (m *Model) Blit(src, dst *State, srcSlot, dstSlot int) error {
	return src.Blit(dst, srcSlot, dstSlot)
}
