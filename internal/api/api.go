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

// Package api implements InferenceAPI, the programmatic surface a transport
// layer (here, cmd/batchd's plain-HTTP demonstrator) drives: state lifecycle,
// component registration, and the generation loop. Grounded on
// original_source's AppState (src/app.rs), which owns the same collaborators
// (a state registry, a pool/ticket admitter, the component registries, a
// tokenizer) and exposes the same five state operations.
package api

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"batchinfer/internal/pipeline"
	"batchinfer/internal/registry"
	"batchinfer/internal/state"
	"batchinfer/internal/ticket"
	"batchinfer/internal/tokenizer"
)

// ErrEmptyTokenList is the Validation error returned when a per-state token
// list is empty. Spec.md §8 requires this to be rejected before any ticket
// is acquired or slot admitted — original's handle_infer.rs rejects an
// empty (or any-empty) token list up front with the same "Empty token
// list!" validation error, before touching the pool.
var ErrEmptyTokenList = errors.New("api: token list must not be empty")

// validateTokenLists returns ErrEmptyTokenList if any entry of tokens is
// empty.
func validateTokenLists(tokens [][]uint32) error {
	for _, t := range tokens {
		if len(t) == 0 {
			return ErrEmptyTokenList
		}
	}
	return nil
}

// InferenceAPI bundles the collaborators one running deployment needs: a
// named state registry, something that can admit states into a batch (a
// *pool.BatchPool or a *shard.Router, both satisfy ticket.Admitter), the
// admission semaphore gating total concurrency, the four component
// registries pipelines borrow from, and a tokenizer.
type InferenceAPI struct {
	Registry      *registry.Registry
	Admitter      ticket.Admitter
	Sem           *semaphore.Weighted
	Components    *pipeline.Registries
	Tokenizer     tokenizer.Tokenizer
	ChannelBuffer int
}

// New constructs an InferenceAPI. channelBuffer of 0 falls back to
// ticket.DefaultChannelBuffer.
func New(reg *registry.Registry, admitter ticket.Admitter, sem *semaphore.Weighted, components *pipeline.Registries, tok tokenizer.Tokenizer, channelBuffer int) *InferenceAPI {
	if channelBuffer <= 0 {
		channelBuffer = ticket.DefaultChannelBuffer
	}
	return &InferenceAPI{
		Registry:      reg,
		Admitter:      admitter,
		Sem:           sem,
		Components:    components,
		Tokenizer:     tok,
		ChannelBuffer: channelBuffer,
	}
}

// CreateState allocates a fresh named state.
func (a *InferenceAPI) CreateState(id string) (*state.Handle, error) {
	return a.Registry.Create(id)
}

// CopyState duplicates an existing state under a new name, shallow
// (copy-on-write) or deep, per spec.md §4.3.
func (a *InferenceAPI) CopyState(ctx context.Context, source, destination string, shallow bool) (*state.Handle, error) {
	return a.Registry.Copy(ctx, source, destination, shallow)
}

// DeleteState removes a named state, invalidating any handle still held
// elsewhere.
func (a *InferenceAPI) DeleteState(id string) error {
	return a.Registry.Delete(id)
}

// UpdateState advances every named state by its paired token list and
// discards the resulting logits. Grounded in app.rs's update_state, which
// calls infer purely for its side effect on the states' recurrent buffers.
func (a *InferenceAPI) UpdateState(ctx context.Context, ids []string, tokensPerState [][]uint32) error {
	if len(ids) != len(tokensPerState) {
		return fmt.Errorf("api: ids and tokens must have the same length (%d vs %d)", len(ids), len(tokensPerState))
	}
	if err := validateTokenLists(tokensPerState); err != nil {
		return err
	}
	handles := make([]*state.Handle, len(ids))
	for i, id := range ids {
		h, err := a.Registry.Get(id)
		if err != nil {
			return err
		}
		handles[i] = h
	}

	t, err := ticket.Acquire(ctx, a.Sem, a.Admitter, ids, handles, a.ChannelBuffer)
	if err != nil {
		return err
	}
	defer t.Release()

	_, err = t.Infer(ctx, tokensPerState)
	return err
}
