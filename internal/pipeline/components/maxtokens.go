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

// MaxTokensTerminal stops generation once tokenCount reaches Max, or as
// soon as any token in StopTokens appears.
type MaxTokensTerminal struct {
	Max         int
	StopTokens  map[uint32]struct{}
}

// NewMaxTokensTerminal constructs a MaxTokensTerminal that also stops on
// any of stopTokens.
func NewMaxTokensTerminal(max int, stopTokens []uint32) *MaxTokensTerminal {
	set := make(map[uint32]struct{}, len(stopTokens))
	for _, t := range stopTokens {
		set[t] = struct{}{}
	}
	return &MaxTokensTerminal{Max: max, StopTokens: set}
}

func (t *MaxTokensTerminal) Terminate(result []uint32, tokenCount int) (bool, error) {
	if tokenCount >= t.Max {
		return true, nil
	}
	if len(result) > 0 {
		if _, stop := t.StopTokens[result[len(result)-1]]; stop {
			return true, nil
		}
	}
	return false, nil
}
