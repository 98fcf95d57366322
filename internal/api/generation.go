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
	"sync"
	"unicode/utf8"

	"batchinfer/internal/pipeline"
	"batchinfer/internal/state"
	"batchinfer/internal/ticket"
)

// defaultMaxNewTokens bounds a generation that names no terminal willing to
// stop it on its own (or whose terminal never fires), so a demo request
// can never hang a goroutine forever.
const defaultMaxNewTokens = 4096

// StateRequest is one named state's generation request: its own prompt, its
// own transformer chain, and the sampler/normalizer/terminal it binds for
// the duration of this generation.
//
// Every state drives its own InferTicket and its own SamplePipeline (see
// DESIGN.md's "single-sequence pipeline" decision): spec.md §4.4 defines
// InferTicket.infer as one synchronous round across every slot the ticket
// holds, awaiting exactly one logits response per slot every round, which
// has no well-defined behavior for a slot that finishes early while its
// ticket-mates keep generating. Giving every state its own ticket sidesteps
// that without losing batching, since BatchPool.step batches every
// concurrently-admitted slot on one pool together regardless of which
// ticket admitted it.
type StateRequest struct {
	StateID string

	// Prompt is already-tokenized input. If empty and PromptText is not,
	// PromptText is tokenized via InferenceAPI.Tokenizer.
	Prompt     []uint32
	PromptText string

	TransformerIDs []string
	SamplerID      string
	NormalizerID   string // "" falls back to plain softmax
	TerminalID     string

	// ResetPolicy is the raw reset_on_exhaustion field: absent/null, a bare
	// bool, or a per-component object, parsed by pipeline.ParseResetPolicy.
	ResetPolicy json.RawMessage

	UpdatePrompt bool

	// MaxNewTokens overrides defaultMaxNewTokens when positive.
	MaxNewTokens int
}

// GenerationRequest is a batch of independent per-state generations,
// dispatched concurrently and collected together.
type GenerationRequest struct {
	States []StateRequest
}

// GenerationResult is spec.md §4.5 step 8's return value for one state.
type GenerationResult struct {
	StateID       string
	Text          string
	LastToken     uint32
	TokensEmitted int
	Err           error
}

// Infer runs every state in req concurrently, each through its own
// InferTicket and SamplePipeline, and returns one GenerationResult per
// state in the same order as req.States. A per-state failure is reported in
// that state's Err; Infer's own error return is reserved for malformed
// requests that precede any state-specific work.
func (a *InferenceAPI) Infer(ctx context.Context, req GenerationRequest) ([]GenerationResult, error) {
	if len(req.States) == 0 {
		return nil, errors.New("api: infer request names no states")
	}

	results := make([]GenerationResult, len(req.States))
	var wg sync.WaitGroup
	for i, sr := range req.States {
		wg.Add(1)
		go func(i int, sr StateRequest) {
			defer wg.Done()
			results[i] = a.runOneGeneration(ctx, sr)
		}(i, sr)
	}
	wg.Wait()
	return results, nil
}

// runOneGeneration drives spec.md §4.5's 8-step generation loop for one
// state from prompt to termination or exhaustion.
func (a *InferenceAPI) runOneGeneration(ctx context.Context, sr StateRequest) GenerationResult {
	out := GenerationResult{StateID: sr.StateID}

	h, err := a.Registry.Get(sr.StateID)
	if err != nil {
		out.Err = err
		return out
	}

	prompt := sr.Prompt
	if len(prompt) == 0 && sr.PromptText != "" {
		prompt = a.Tokenizer.Encode(sr.PromptText)
	}
	if len(prompt) == 0 {
		// spec.md §8: an infer with an empty per-state token list fails
		// Validation before any slot is admitted — an empty prompt would
		// otherwise produce no tokens on the wire and Ticket.Infer below
		// would block forever awaiting logits the pool never emits for an
		// idle, still-open slot.
		out.Err = fmt.Errorf("api: infer: %w (state %q)", ErrEmptyTokenList, sr.StateID)
		return out
	}

	resetPolicy, err := pipeline.ParseResetPolicy([][]string{sr.TransformerIDs}, sr.ResetPolicy)
	if err != nil {
		out.Err = err
		return out
	}

	p, err := pipeline.New(a.Components, [][]string{sr.TransformerIDs}, sr.SamplerID, sr.TerminalID, sr.NormalizerID, resetPolicy)
	if err != nil {
		out.Err = err
		return out
	}
	defer p.Close()

	t, err := ticket.Acquire(ctx, a.Sem, a.Admitter, []string{sr.StateID}, []*state.Handle{h}, a.ChannelBuffer)
	if err != nil {
		out.Err = err
		return out
	}
	defer t.Release()

	if sr.UpdatePrompt {
		// Step 3's prompt update is always strict: exhaustion here precedes
		// the first sample, so it must fail hard (spec.md §8) regardless of
		// the caller's reset_on_exhaustion, same as the first-sample check
		// a few lines below.
		if err := p.UpdateStrict(prompt); err != nil {
			out.Err = fmt.Errorf("api: exhausted at start: %w", err)
			return out
		}
	}

	// Step 4: first pass. Exhaustion here is fatal, not a clean stop.
	logits, err := t.Infer(ctx, [][]uint32{prompt})
	if err != nil {
		out.Err = err
		return out
	}
	tok, err := p.Sample(logits[0].Values)
	if err != nil {
		out.Err = fmt.Errorf("api: exhausted at start: %w", err)
		return out
	}

	var (
		emitted       []uint32
		pendingBytes  []byte
		text          []byte
		tokensEmitted int
	)
	emitted = append(emitted, tok)
	tokensEmitted++

	maxNew := sr.MaxNewTokens
	if maxNew <= 0 {
		maxNew = defaultMaxNewTokens
	}

	// appendDecoded attempts step 6's incremental UTF-8-safe decode, then
	// step 7's terminal check whenever it actually appended something.
	appendDecoded := func() (bool, error) {
		pendingBytes = append(pendingBytes, a.Tokenizer.DecodeBytes(emitted[len(emitted)-1:])...)
		complete, rest := splitCompleteUTF8(pendingBytes)
		if len(complete) == 0 {
			return false, nil
		}
		text = append(text, complete...)
		pendingBytes = rest
		return p.Terminate(emitted, tokensEmitted)
	}

	done, err := appendDecoded()
	if err != nil {
		out.Err = err
		return out
	}

	for !done && tokensEmitted < maxNew {
		if err := p.Update([]uint32{tok}); err != nil {
			if errors.Is(err, pipeline.ErrExhausted) {
				break
			}
			out.Err = err
			return out
		}

		logits, err = t.Infer(ctx, [][]uint32{{tok}})
		if err != nil {
			out.Err = err
			return out
		}
		tok, err = p.Sample(logits[0].Values)
		if err != nil {
			if errors.Is(err, pipeline.ErrExhausted) {
				break
			}
			out.Err = err
			return out
		}

		emitted = append(emitted, tok)
		tokensEmitted++

		done, err = appendDecoded()
		if err != nil {
			out.Err = err
			return out
		}
	}

	out.Text = string(text)
	out.LastToken = tok
	out.TokensEmitted = tokensEmitted
	return out
}

// splitCompleteUTF8 splits b into valid UTF-8 text and the (possibly empty)
// trailing incomplete sequence. Complete runes pass through unchanged; a
// byte that can never start a valid rune (a stray continuation byte, or a
// lead byte followed by a non-continuation byte) is replaced by U+FFFD, so
// a malformed byte from byte-at-a-time decoding never holds back the text
// that follows it. Only a prefix of a rune cut off at the end of b is
// returned as rest.
func splitCompleteUTF8(b []byte) (complete, rest []byte) {
	i := 0
	for i < len(b) {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(b[i:]) {
				break
			}
			complete = append(complete, string(utf8.RuneError)...)
			i++
			continue
		}
		complete = append(complete, b[i:i+size]...)
		i += size
	}
	return complete, b[i:]
}
