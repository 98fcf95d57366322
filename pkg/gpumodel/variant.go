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

import "fmt"

// Variant identifies one of the two recurrent model architectures this
// façade dispatches to. Mirrors the original's AxumModel::{V4,V5} enum.
type Variant int

const (
	VariantA Variant = iota
	VariantB
)

func (v Variant) String() string {
	switch v {
	case VariantA:
		return "variant-a"
	case VariantB:
		return "variant-b"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Info describes the static shape of a model variant.
type Info struct {
	Variant  Variant
	NumEmbed int
	Vocab    int
}

// StateWidth is the length of the per-slot hidden-state buffer this variant
// requires. VariantB carries a second (channel-mix) half, doubling it.
func (info Info) StateWidth() int {
	switch info.Variant {
	case VariantB:
		return info.NumEmbed * 2
	default:
		return info.NumEmbed
	}
}
