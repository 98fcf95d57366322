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

import "batchinfer/pkg/gpumodel"

// SoftmaxNormalizer applies plain softmax. It exists so a deployment can
// bind a normalizer explicitly by name instead of relying on
// pipeline.SamplePipeline's implicit fallback.
type SoftmaxNormalizer struct{}

func (SoftmaxNormalizer) Normalize(logits []float32) []float32 {
	return gpumodel.Softmax([][]float32{logits})[0]
}

func (SoftmaxNormalizer) Clear() {}
