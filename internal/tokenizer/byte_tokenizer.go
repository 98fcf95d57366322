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

package tokenizer

// ByteTokenizer maps every token id one-to-one onto a raw byte value, so
// the vocabulary is exactly 256 wide. It needs no trained vocabulary file,
// which makes it useful both as a default for the demo server and as the
// tokenizer pipeline tests drive the incremental-decode logic with.
type ByteTokenizer struct{}

func (ByteTokenizer) VocabSize() int { return 256 }

func (ByteTokenizer) Encode(text string) []uint32 {
	b := []byte(text)
	out := make([]uint32, len(b))
	for i, c := range b {
		out[i] = uint32(c)
	}
	return out
}

func (ByteTokenizer) DecodeBytes(tokens []uint32) []byte {
	out := make([]byte, len(tokens))
	for i, t := range tokens {
		out[i] = byte(t % 256)
	}
	return out
}
