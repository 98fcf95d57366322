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

// Package tokenizer turns prompt text into model token ids and token ids
// back into text, the collaborator spec.md's generation loop calls out to
// at its tokenize and incremental-decode steps.
package tokenizer

// Tokenizer turns text into model tokens and back. Decode is intentionally
// byte-oriented rather than string-oriented: a generation loop accumulates
// raw bytes across calls and only emits once it holds a complete UTF-8
// sequence, since a single token can (and for byte-level vocabularies,
// routinely does) land mid-rune.
type Tokenizer interface {
	Encode(text string) []uint32
	DecodeBytes(tokens []uint32) []byte
	VocabSize() int
}
