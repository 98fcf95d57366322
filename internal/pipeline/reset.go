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
	"encoding/json"
	"errors"
	"fmt"
)

// ErrResetShapeMismatch is returned when an object-form reset policy's
// per-transformer flags don't match the pipeline's transformer group shape.
var ErrResetShapeMismatch = errors.New("pipeline: reset transformer shape mismatch")

// ErrExhausted is the sentinel a Transformer.Update or Sampler.Update
// returns (via errors.Is/wrapping) when its internal constraint has been
// fully consumed. It is not a fault: SamplePipeline.Update treats it as a
// reset-and-continue signal when the offending component's ResetPolicy flag
// is set, and as a propagated failure otherwise.
var ErrExhausted = errors.New("pipeline: component exhausted")

// ResetPolicy selects which bound components get cleared between
// generations that otherwise reuse the same pipeline. Transformers is
// flattened in the same order transformer groups were supplied to New.
type ResetPolicy struct {
	Transformers []bool
	Sampler      bool
	Normalizer   bool
}

// AllResetPolicy returns a policy that sets every flag to value.
func AllResetPolicy(transformerIDs [][]string, value bool) ResetPolicy {
	var flat []bool
	for _, group := range transformerIDs {
		for range group {
			flat = append(flat, value)
		}
	}
	return ResetPolicy{Transformers: flat, Sampler: value, Normalizer: value}
}

type resetData struct {
	Transformers *[][]bool `json:"transformers"`
	Sampler      *bool     `json:"sampler"`
	Normalizer   *bool     `json:"normalizer"`
}

// ParseResetPolicy decodes a reset field that may be absent (meaning "reset
// everything"), a bare JSON boolean (apply uniformly), or an object naming
// which parts to reset. transformerIDs gives the group shape object-form
// input is validated against.
func ParseResetPolicy(transformerIDs [][]string, raw json.RawMessage) (ResetPolicy, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return AllResetPolicy(transformerIDs, true), nil
	}

	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return AllResetPolicy(transformerIDs, flag), nil
	}

	var data resetData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ResetPolicy{}, fmt.Errorf("pipeline: reset must be a bool or object: %w", err)
	}

	sampler := true
	if data.Sampler != nil {
		sampler = *data.Sampler
	}
	normalizer := true
	if data.Normalizer != nil {
		normalizer = *data.Normalizer
	}

	var transformers [][]bool
	if data.Transformers != nil {
		transformers = *data.Transformers
	} else {
		transformers = make([][]bool, len(transformerIDs))
		for i, ids := range transformerIDs {
			transformers[i] = make([]bool, len(ids))
			for j := range transformers[i] {
				transformers[i][j] = true
			}
		}
	}

	if len(transformers) != len(transformerIDs) {
		return ResetPolicy{}, ErrResetShapeMismatch
	}
	var flat []bool
	for i, group := range transformers {
		if len(group) != len(transformerIDs[i]) {
			return ResetPolicy{}, ErrResetShapeMismatch
		}
		flat = append(flat, group...)
	}

	return ResetPolicy{Transformers: flat, Sampler: sampler, Normalizer: normalizer}, nil
}
