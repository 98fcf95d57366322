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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"batchinfer/internal/pipeline"
	"batchinfer/internal/pipeline/components"
)

// InboundCommand is the transport-agnostic request envelope: whatever
// transport carries it (here, cmd/batchd's HTTP POST /command), every
// request names an echo id for correlating the response, a command name
// selecting a handler, and handler-specific data.
type InboundCommand struct {
	EchoID  string          `json:"echo_id"`
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// OutboundResponse is the matching reply envelope. At most one of Result or
// Error is set, selected by Status; Result is left empty for commands that
// succeed without a result (delete, reset and update_state).
type OutboundResponse struct {
	EchoID string      `json:"echo_id"`
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrUnknownCommand is returned (wrapped into an error response, never
// panicked) when Command names no registered handler.
var ErrUnknownCommand = errors.New("api: unknown command")

type handlerFunc func(ctx context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error)

var commandHandlers = map[string]handlerFunc{
	"create_state": handleCreateState,
	"copy_state":   handleCopyState,
	"delete_state": handleDeleteState,
	"update_state": handleUpdateState,
	"infer":        handleInfer,

	"create_transformer": handleCreateTransformer,
	"delete_transformer": handleDeleteTransformer,
	"reset_transformer":  handleResetTransformer,

	"create_sampler": handleCreateSampler,
	"delete_sampler": handleDeleteSampler,
	"reset_sampler":  handleResetSampler,

	"create_normalizer": handleCreateNormalizer,
	"delete_normalizer": handleDeleteNormalizer,
	"reset_normalizer":  handleResetNormalizer,

	"create_terminal": handleCreateTerminal,
	"delete_terminal": handleDeleteTerminal,
}

// Dispatch runs one InboundCommand against a and always returns a response
// envelope, never an error: command-layer failures are reported inside the
// envelope's Error field, matching the "no response is fatal" outbound
// contract of spec.md §6.
func Dispatch(ctx context.Context, a *InferenceAPI, cmd InboundCommand) OutboundResponse {
	handler, ok := commandHandlers[cmd.Command]
	if !ok {
		return errorResponse(cmd.EchoID, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command))
	}
	result, err := handler(ctx, a, cmd.Data)
	if err != nil {
		return errorResponse(cmd.EchoID, err)
	}
	return OutboundResponse{EchoID: cmd.EchoID, Status: statusSuccess, Result: result}
}

func errorResponse(echoID string, err error) OutboundResponse {
	return OutboundResponse{EchoID: echoID, Status: statusError, Error: err.Error()}
}

func handleCreateState(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: create_state: %w", err)
	}
	h, err := a.CreateState(id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": h.ID()}, nil
}

func handleCopyState(ctx context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Shallow     bool   `json:"shallow"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: copy_state: %w", err)
	}
	h, err := a.CopyState(ctx, req.Source, req.Destination, req.Shallow)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": h.ID()}, nil
}

func handleDeleteState(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: delete_state: %w", err)
	}
	return nil, a.DeleteState(id)
}

// tokenValue is either an already-tokenized int list or raw text to be
// tokenized, matching spec.md §6's "tokens values are either a list of
// integers ... or a string". Mixed lists are accepted per element since
// decoding happens per tokenValue, not per request.
type tokenValue struct {
	ints   []uint32
	text   string
	isText bool
}

func (t *tokenValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.text, t.isText = s, true
		return nil
	}
	var ints []uint32
	if err := json.Unmarshal(b, &ints); err != nil {
		return fmt.Errorf("api: token value must be a string or an array of integers: %w", err)
	}
	t.ints = ints
	return nil
}

func (t tokenValue) resolve(tok interface{ Encode(string) []uint32 }) []uint32 {
	if t.isText {
		return tok.Encode(t.text)
	}
	return t.ints
}

func handleUpdateState(ctx context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req struct {
		States []string     `json:"states"`
		Tokens []tokenValue `json:"tokens"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: update_state: %w", err)
	}
	if len(req.States) != len(req.Tokens) {
		return nil, fmt.Errorf("api: update_state: states and tokens must have the same length (%d vs %d)", len(req.States), len(req.Tokens))
	}
	tokens := make([][]uint32, len(req.Tokens))
	for i, tv := range req.Tokens {
		tokens[i] = tv.resolve(a.Tokenizer)
	}
	if err := validateTokenLists(tokens); err != nil {
		return nil, fmt.Errorf("api: update_state: %w", err)
	}
	return nil, a.UpdateState(ctx, req.States, tokens)
}

func handleInfer(ctx context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req struct {
		Tokens             []tokenValue      `json:"tokens"`
		States             []string          `json:"states"`
		Transformers       [][]string        `json:"transformers"`
		Sampler            string            `json:"sampler"`
		Normalizer         string            `json:"normalizer"`
		Terminal           string            `json:"terminal"`
		UpdatePrompt       bool              `json:"update_prompt"`
		ResetOnExhaustion  json.RawMessage   `json:"reset_on_exhaustion"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: infer: %w", err)
	}
	n := len(req.States)
	if len(req.Tokens) != n || len(req.Transformers) != n {
		return nil, fmt.Errorf("api: infer: states, tokens, and transformers must all have length %d", n)
	}

	states := make([]StateRequest, n)
	for i := range req.States {
		prompt := req.Tokens[i].resolve(a.Tokenizer)
		if len(prompt) == 0 {
			return nil, fmt.Errorf("api: infer: %w (state %q)", ErrEmptyTokenList, req.States[i])
		}
		states[i] = StateRequest{
			StateID:        req.States[i],
			Prompt:         prompt,
			TransformerIDs: req.Transformers[i],
			SamplerID:      req.Sampler,
			NormalizerID:   req.Normalizer,
			TerminalID:     req.Terminal,
			ResetPolicy:    req.ResetOnExhaustion,
			UpdatePrompt:   req.UpdatePrompt,
		}
	}

	results, err := a.Infer(ctx, GenerationRequest{States: states})
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		entry := map[string]interface{}{
			"state_id":       r.StateID,
			"text":           r.Text,
			"last_token":     r.LastToken,
			"tokens_emitted": r.TokensEmitted,
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		out[i] = entry
	}
	return out, nil
}

// componentCreateRequest is the shared {id, type, data} shape of every
// create_* component command in spec.md §6.
type componentCreateRequest struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var transformerFactories = map[string]func(json.RawMessage) (pipeline.Transformer, error){
	"repetition_penalty": func(data json.RawMessage) (pipeline.Transformer, error) {
		var cfg struct {
			Penalty float32 `json:"penalty"`
			Decay   float32 `json:"decay"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		if cfg.Decay == 0 {
			cfg.Decay = 1
		}
		return components.NewRepetitionPenalty(cfg.Penalty, cfg.Decay), nil
	},
}

var samplerFactories = map[string]func(json.RawMessage) (pipeline.Sampler, error){
	"nucleus": func(data json.RawMessage) (pipeline.Sampler, error) {
		var cfg struct {
			TopP float32 `json:"top_p"`
			Temp float32 `json:"temperature"`
			Seed int64   `json:"seed"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		if cfg.Temp == 0 {
			cfg.Temp = 1
		}
		return components.NewNucleusSampler(cfg.TopP, cfg.Temp, cfg.Seed), nil
	},
}

var normalizerFactories = map[string]func(json.RawMessage) (pipeline.Normalizer, error){
	"softmax": func(json.RawMessage) (pipeline.Normalizer, error) {
		return components.SoftmaxNormalizer{}, nil
	},
}

var terminalFactories = map[string]func(json.RawMessage) (pipeline.Terminal, error){
	"max_tokens": func(data json.RawMessage) (pipeline.Terminal, error) {
		var cfg struct {
			Max        int      `json:"max"`
			StopTokens []uint32 `json:"stop_tokens"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return components.NewMaxTokensTerminal(cfg.Max, cfg.StopTokens), nil
	},
}

func handleCreateTransformer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req componentCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: create_transformer: %w", err)
	}
	factory, ok := transformerFactories[req.Type]
	if !ok {
		return nil, fmt.Errorf("api: create_transformer: unknown type %q", req.Type)
	}
	tr, err := factory(req.Data)
	if err != nil {
		return nil, err
	}
	a.Components.Transformers.Register(req.ID, tr)
	return map[string]string{"id": req.ID}, nil
}

func handleDeleteTransformer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: delete_transformer: %w", err)
	}
	if !a.Components.Transformers.Delete(id) {
		return nil, fmt.Errorf("api: delete_transformer: %w", pipeline.ErrComponentNotFound)
	}
	return nil, nil
}

func handleResetTransformer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: reset_transformer: %w", err)
	}
	return nil, a.Components.Transformers.Reset(id, func(tr pipeline.Transformer) { tr.Clear() })
}

func handleCreateSampler(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req componentCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: create_sampler: %w", err)
	}
	factory, ok := samplerFactories[req.Type]
	if !ok {
		return nil, fmt.Errorf("api: create_sampler: unknown type %q", req.Type)
	}
	s, err := factory(req.Data)
	if err != nil {
		return nil, err
	}
	a.Components.Samplers.Register(req.ID, s)
	return map[string]string{"id": req.ID}, nil
}

func handleDeleteSampler(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: delete_sampler: %w", err)
	}
	if !a.Components.Samplers.Delete(id) {
		return nil, fmt.Errorf("api: delete_sampler: %w", pipeline.ErrComponentNotFound)
	}
	return nil, nil
}

func handleResetSampler(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: reset_sampler: %w", err)
	}
	return nil, a.Components.Samplers.Reset(id, func(s pipeline.Sampler) { s.Clear() })
}

func handleCreateNormalizer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req componentCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: create_normalizer: %w", err)
	}
	factory, ok := normalizerFactories[req.Type]
	if !ok {
		return nil, fmt.Errorf("api: create_normalizer: unknown type %q", req.Type)
	}
	n, err := factory(req.Data)
	if err != nil {
		return nil, err
	}
	a.Components.Normalizers.Register(req.ID, n)
	return map[string]string{"id": req.ID}, nil
}

func handleDeleteNormalizer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: delete_normalizer: %w", err)
	}
	if !a.Components.Normalizers.Delete(id) {
		return nil, fmt.Errorf("api: delete_normalizer: %w", pipeline.ErrComponentNotFound)
	}
	return nil, nil
}

func handleResetNormalizer(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: reset_normalizer: %w", err)
	}
	return nil, a.Components.Normalizers.Reset(id, func(n pipeline.Normalizer) { n.Clear() })
}

func handleCreateTerminal(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var req componentCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("api: create_terminal: %w", err)
	}
	factory, ok := terminalFactories[req.Type]
	if !ok {
		return nil, fmt.Errorf("api: create_terminal: unknown type %q", req.Type)
	}
	term, err := factory(req.Data)
	if err != nil {
		return nil, err
	}
	a.Components.Terminals.Register(req.ID, term)
	return map[string]string{"id": req.ID}, nil
}

func handleDeleteTerminal(_ context.Context, a *InferenceAPI, data json.RawMessage) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("api: delete_terminal: %w", err)
	}
	if !a.Components.Terminals.Delete(id) {
		return nil, fmt.Errorf("api: delete_terminal: %w", pipeline.ErrComponentNotFound)
	}
	return nil, nil
}
