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

// Package pipeline binds named Transformer/Sampler/Normalizer/Terminal
// components into one SamplePipeline per generation request, the way
// original_source's components::infer::SamplePipeline borrows components
// out of its DashMap-backed registries for the lifetime of one request.
package pipeline

// Transformer reshapes logits before sampling (repetition penalty,
// frequency penalty, logit bias, ...) and observes every token fed into a
// sequence so it can build up per-sequence state (e.g. token counts).
type Transformer interface {
	Update(tokens []uint32) error
	Transform(logits []float32) []float32
	Clear()
}

// Sampler turns a probability-like distribution into one concrete token. It
// also observes fed tokens, mirroring Transformer, since samplers such as a
// repetition-aware nucleus sampler may need sequence history too.
type Sampler interface {
	Update(tokens []uint32) error
	Sample(logits []float32) (uint32, error)
	Clear()
}

// Normalizer turns raw transformed logits into a probability distribution.
// A pipeline with no normalizer bound falls back to plain softmax.
type Normalizer interface {
	Normalize(logits []float32) []float32
	Clear()
}

// Terminal decides whether generation should stop after the most recent
// token.
type Terminal interface {
	Terminate(result []uint32, tokenCount int) (bool, error)
}
