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

package pipeline

import (
	"errors"

	"batchinfer/pkg/gpumodel"
)

// exhaustionOr treats err as recoverable when it is ErrExhausted and reset
// is true, otherwise returns it unchanged (nil stays nil).
func exhaustionOr(err error, reset bool, clear func()) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExhausted) && reset {
		clear()
		return nil
	}
	return err
}

// ErrDuplicateTransformerID is returned by New when the same transformer id
// is named more than once across the requested groups.
var ErrDuplicateTransformerID = errors.New("pipeline: duplicate transformer id")

// Registries bundles the four component kinds a SamplePipeline binds
// against. One Registries is shared by every pipeline built for a given
// model deployment; components are registered into it at startup.
type Registries struct {
	Transformers *Registry[Transformer]
	Samplers     *Registry[Sampler]
	Normalizers  *Registry[Normalizer]
	Terminals    *Registry[Terminal]
}

// NewRegistries constructs an empty set of the four component registries.
func NewRegistries() *Registries {
	return &Registries{
		Transformers: NewRegistry[Transformer](),
		Samplers:     NewRegistry[Sampler](),
		Normalizers:  NewRegistry[Normalizer](),
		Terminals:    NewRegistry[Terminal](),
	}
}

// SamplePipeline binds exclusively-borrowed components for the lifetime of
// one generation request.
type SamplePipeline struct {
	transformerGroups [][]Transformer
	sampler           Sampler
	terminal          Terminal
	normalizer        Normalizer // nil means fall back to plain softmax
	resetPolicy       ResetPolicy

	releases []func()
}

// New borrows every named component out of reg and binds them into a
// SamplePipeline. transformerIDs is a list of groups (applied in order,
// each group's transformers applied in order within it); every id across
// every group must be unique. normalizerID may be "" to mean "no
// normalizer, use softmax".
func New(reg *Registries, transformerIDs [][]string, samplerID, terminalID, normalizerID string, resetPolicy ResetPolicy) (p *SamplePipeline, err error) {
	seen := make(map[string]struct{})
	for _, group := range transformerIDs {
		for _, id := range group {
			if _, dup := seen[id]; dup {
				return nil, ErrDuplicateTransformerID
			}
			seen[id] = struct{}{}
		}
	}

	sp := &SamplePipeline{resetPolicy: resetPolicy}
	defer func() {
		if err != nil {
			sp.Close()
		}
	}()

	for _, group := range transformerIDs {
		var borrowed []Transformer
		for _, id := range group {
			tr, release, berr := reg.Transformers.Borrow(id)
			if berr != nil {
				return nil, berr
			}
			sp.releases = append(sp.releases, release)
			borrowed = append(borrowed, tr)
		}
		sp.transformerGroups = append(sp.transformerGroups, borrowed)
	}

	sampler, release, berr := reg.Samplers.Borrow(samplerID)
	if berr != nil {
		return nil, berr
	}
	sp.releases = append(sp.releases, release)
	sp.sampler = sampler

	terminal, release, berr := reg.Terminals.Borrow(terminalID)
	if berr != nil {
		return nil, berr
	}
	sp.releases = append(sp.releases, release)
	sp.terminal = terminal

	if normalizerID != "" {
		normalizer, release, berr := reg.Normalizers.Borrow(normalizerID)
		if berr != nil {
			return nil, berr
		}
		sp.releases = append(sp.releases, release)
		sp.normalizer = normalizer
	}

	flatWant := 0
	for _, group := range transformerIDs {
		flatWant += len(group)
	}
	if len(resetPolicy.Transformers) != flatWant {
		return nil, ErrResetShapeMismatch
	}

	return sp, nil
}

// Update feeds tokens (e.g. a prompt, or the single token just sampled) into
// every transformer and the sampler. If a component reports ErrExhausted and
// its ResetPolicy flag is set, Update resets that component and continues;
// otherwise the exhaustion (or any other error) propagates to the caller.
func (p *SamplePipeline) Update(tokens []uint32) error {
	return p.update(tokens, p.resetPolicy)
}

// UpdateStrict runs the same update step as Update but with every reset flag
// forced off, so Exhaustion from any component always propagates instead of
// resetting-and-continuing. Callers use this for the prompt-feeding update
// that precedes a generation's first sample: spec.md §8 requires Exhaustion
// on that very first step to fail hard regardless of the caller's
// reset_on_exhaustion, matching the original's infer_and_sample, which calls
// its first update with reset_on_exhaustion hard-coded to false.
func (p *SamplePipeline) UpdateStrict(tokens []uint32) error {
	return p.update(tokens, ResetPolicy{Transformers: make([]bool, len(p.resetPolicy.Transformers))})
}

func (p *SamplePipeline) update(tokens []uint32, policy ResetPolicy) error {
	idx := 0
	for _, group := range p.transformerGroups {
		for _, tr := range group {
			reset := policy.Transformers[idx]
			if err := exhaustionOr(tr.Update(tokens), reset, tr.Clear); err != nil {
				return err
			}
			idx++
		}
	}
	if err := exhaustionOr(p.sampler.Update(tokens), policy.Sampler, p.sampler.Clear); err != nil {
		return err
	}
	return nil
}

// Sample runs logits through every transformer group in order, then a
// normalizer if one is bound (otherwise plain softmax), then the sampler.
func (p *SamplePipeline) Sample(logits []float32) (uint32, error) {
	for _, group := range p.transformerGroups {
		for _, tr := range group {
			logits = tr.Transform(logits)
		}
	}
	if p.normalizer != nil {
		logits = p.normalizer.Normalize(logits)
	} else {
		logits = gpumodel.Softmax([][]float32{logits})[0]
	}
	return p.sampler.Sample(logits)
}

// Terminate reports whether generation should stop given the tokens emitted
// so far.
func (p *SamplePipeline) Terminate(result []uint32, tokenCount int) (bool, error) {
	return p.terminal.Terminate(result, tokenCount)
}

// Reset clears whichever bound components this pipeline's ResetPolicy
// selects. Intended to run between independent generations that reuse one
// pipeline (e.g. a chat turn boundary) without rebuilding it.
func (p *SamplePipeline) Reset() {
	idx := 0
	for _, group := range p.transformerGroups {
		for _, tr := range group {
			if p.resetPolicy.Transformers[idx] {
				tr.Clear()
			}
			idx++
		}
	}
	if p.resetPolicy.Sampler {
		p.sampler.Clear()
	}
	if p.resetPolicy.Normalizer && p.normalizer != nil {
		p.normalizer.Clear()
	}
}

// Close releases every component this pipeline borrowed. Must be called
// exactly once, generally via defer right after New succeeds.
func (p *SamplePipeline) Close() {
	for _, release := range p.releases {
		release()
	}
	p.releases = nil
}
