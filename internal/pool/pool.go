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

// Package pool implements BatchPool: a fixed-width set of GPU batch slots
// driven by a single background loop goroutine, the way etalazz-vsa's
// plugin/tfd.SService drives its ingest/accumulate/flush cycle. Sessions are
// admitted into a free slot, their queued tokens are drained and forwarded
// through the model together each tick, and idle slots are evicted back to
// the free pool.
package pool

import (
	"context"
	"sync"
	"time"

	"batchinfer/internal/state"
	"batchinfer/internal/telemetry"
	"batchinfer/pkg/gpumodel"
)

// Options configure a BatchPool's background loop.
type Options struct {
	// TickInterval is how often the loop drains pending tokens and runs a
	// forward pass. Default 2ms, matching the teacher's flush cadence.
	TickInterval time.Duration
	// AdmitBuffer bounds the admission request channel. Default 64.
	AdmitBuffer int
	Metrics     *telemetry.PoolMetrics
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 2 * time.Millisecond
	}
	if o.AdmitBuffer <= 0 {
		o.AdmitBuffer = 64
	}
	return o
}

// BatchPool owns a fixed number of GPU batch slots for one model instance.
type BatchPool struct {
	id       string
	model    *gpumodel.Model
	st       *gpumodel.State
	capacity int
	slots    []*PoolSlot

	admitCh chan *admitRequest
	syncCh  chan *syncRequest
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	stopped sync.Once

	opts    Options
	metrics *telemetry.PoolMetrics
}

// New constructs a BatchPool with the given id, model, and slot count. Call
// Start before submitting any admission or sync requests.
func New(id string, model *gpumodel.Model, capacity int, opts Options) *BatchPool {
	opts = opts.withDefaults()
	slots := make([]*PoolSlot, capacity)
	for i := range slots {
		slots[i] = &PoolSlot{index: i}
	}
	return &BatchPool{
		id:       id,
		model:    model,
		st:       model.NewState(capacity),
		capacity: capacity,
		slots:    slots,
		admitCh:  make(chan *admitRequest, opts.AdmitBuffer),
		syncCh:   make(chan *syncRequest, opts.AdmitBuffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		opts:     opts,
		metrics:  opts.Metrics,
	}
}

func (p *BatchPool) ID() string { return p.id }

func (p *BatchPool) Capacity() int { return p.capacity }

// Start launches the background loop goroutine. Safe to call more than
// once; only the first call has effect.
func (p *BatchPool) Start() {
	p.once.Do(func() {
		go p.run()
	})
}

// Stop asks the loop to exit, flushes every resident slot's live buffer back
// to its Handle, and waits for the goroutine to finish. Safe to call more
// than once; later calls only wait.
func (p *BatchPool) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// Admit binds handle to a free slot and begins feeding it from tokensIn,
// delivering logits on logitsOut, until closed is closed and the slot's
// queue drains empty. It does not wait for a slot: if every slot is
// occupied it returns ErrPoolFull. It returns ctx.Err() if ctx is canceled
// before the loop answers.
func (p *BatchPool) Admit(ctx context.Context, stateID string, handle *state.Handle, tokensIn <-chan []uint32, logitsOut chan<- *gpumodel.Logits, closed <-chan struct{}) error {
	req := &admitRequest{
		stateID:   stateID,
		handle:    handle,
		tokensIn:  tokensIn,
		logitsOut: logitsOut,
		closed:    closed,
		admitted:  make(chan error, 1),
	}
	select {
	case p.admitCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopped
	}
	select {
	case err := <-req.admitted:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopped
	}
}

// Sync flushes stateID's live buffer back into its Handle's snapshot without
// evicting the slot. It implements the PoolSyncer contract that
// internal/registry.Registry.Copy (through internal/shard) relies on. A
// stateID not currently resident in this pool is a silent no-op: the
// Handle's snapshot is already the authoritative copy.
func (p *BatchPool) Sync(ctx context.Context, stateID string) error {
	req := &syncRequest{stateID: stateID, done: make(chan error, 1)}
	select {
	case p.syncCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopped
	}
}

func (p *BatchPool) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case req := <-p.admitCh:
			p.handleAdmit(req)
		case req := <-p.syncCh:
			p.handleSync(req)
		case <-ticker.C:
			p.step()
		case <-p.stopCh:
			p.shutdown()
			return
		}
	}
}

func (p *BatchPool) freeSlotIndex() int {
	for i, s := range p.slots {
		if s.free() {
			return i
		}
	}
	return -1
}

func (p *BatchPool) slotIndexForState(stateID string) int {
	for i, s := range p.slots {
		if !s.free() && s.stateID == stateID {
			return i
		}
	}
	return -1
}

func (p *BatchPool) handleAdmit(req *admitRequest) {
	idx := p.freeSlotIndex()
	if idx < 0 {
		req.admitted <- ErrPoolFull
		return
	}
	snap, err := req.handle.Snapshot()
	if err != nil {
		req.admitted <- err
		return
	}
	if err := p.st.SetSlot(idx, snap); err != nil {
		req.admitted <- err
		return
	}
	if err := req.handle.Bind(p.id, idx); err != nil {
		req.admitted <- err
		return
	}

	slot := p.slots[idx]
	slot.stateID = req.stateID
	slot.handle = req.handle
	slot.tokensIn = req.tokensIn
	slot.logitsOut = req.logitsOut
	slot.closed = req.closed
	slot.pending = nil
	slot.submitted = 0

	if p.metrics != nil {
		p.metrics.SlotsInUse.Inc()
		p.metrics.GenerationsStart.Inc()
	}
	req.admitted <- nil
}

func (p *BatchPool) handleSync(req *syncRequest) {
	idx := p.slotIndexForState(req.stateID)
	if idx < 0 {
		req.done <- nil
		return
	}
	snap, err := p.st.Snapshot(idx)
	if err != nil {
		req.done <- err
		return
	}
	req.done <- p.slots[idx].handle.WriteSnapshot(snap)
}

// step drains every active slot's pending tokens, runs one forward pass
// across the whole batch, dispatches logits to slots that completed their
// queued tokens this pass, and evicts any slot left idle afterward.
func (p *BatchPool) step() {
	tokens := make([][]uint32, p.capacity)
	active := false
	for i, slot := range p.slots {
		if slot.free() {
			continue
		}
		slot.drain()
		tokens[i] = slot.pending
		if len(tokens[i]) > 0 {
			active = true
		}
	}

	if active {
		out, err := p.model.Forward(tokens, p.st)
		if err == nil {
			for i, slot := range p.slots {
				if slot.free() {
					continue
				}
				slot.pending = tokens[i]
				if out[i] == nil {
					continue
				}
				select {
				case slot.logitsOut <- out[i]:
					if p.metrics != nil {
						p.metrics.TokensForwarded.Add(float64(slot.submitted))
					}
					slot.submitted = 0
				case <-slot.closed:
				}
			}
		}
	}

	p.evictIdle()
}

func (p *BatchPool) evictIdle() {
	for i, slot := range p.slots {
		if slot.free() || !slot.idle() {
			continue
		}
		p.evictSlot(i)
	}
}

func (p *BatchPool) evictSlot(i int) {
	slot := p.slots[i]
	if snap, err := p.st.Snapshot(i); err == nil {
		_ = slot.handle.WriteSnapshot(snap)
	}
	_ = slot.handle.Unbind()
	slot.reset()
	if p.metrics != nil {
		p.metrics.SlotsInUse.Dec()
		p.metrics.Evictions.Inc()
		p.metrics.GenerationsDone.Inc()
	}
}

// shutdown flushes every resident slot back to its Handle and fails any
// requests still queued, mirroring the teacher's drain-then-exit behavior
// on Stop.
func (p *BatchPool) shutdown() {
	for {
		select {
		case req := <-p.admitCh:
			req.admitted <- ErrPoolStopped
		case req := <-p.syncCh:
			req.done <- ErrPoolStopped
		default:
			for i, slot := range p.slots {
				if slot.free() {
					continue
				}
				if snap, err := p.st.Snapshot(i); err == nil {
					_ = slot.handle.WriteSnapshot(snap)
				}
				_ = slot.handle.Unbind()
				slot.reset()
			}
			return
		}
	}
}
