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

// Package telemetry wires Prometheus instrumentation for the inference
// server: pool occupancy, admission wait, generation counts, and exhaustion
// events.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics is the set of instruments one BatchPool reports through.
// Construct one per pool (labeled by pool id) with NewPoolMetrics.
type PoolMetrics struct {
	SlotsInUse       prometheus.Gauge
	AdmissionWait    prometheus.Observer
	TokensForwarded  prometheus.Counter
	Evictions        prometheus.Counter
	GenerationsStart prometheus.Counter
	GenerationsDone  prometheus.Counter
	Exhaustions      prometheus.Counter
}

// NewPoolMetrics registers a fresh set of instruments for poolID against
// reg. Passing prometheus.DefaultRegisterer matches cmd/batchd's demo
// server, which exposes them on /metrics via promhttp.
func NewPoolMetrics(reg prometheus.Registerer, poolID string) *PoolMetrics {
	labels := prometheus.Labels{"pool": poolID}
	m := &PoolMetrics{
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchinfer_pool_slots_in_use",
			Help:        "Number of batch slots currently bound to a session.",
			ConstLabels: labels,
		}),
		AdmissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "batchinfer_pool_admission_wait_seconds",
			Help:        "Time a ticket spent waiting for a free slot.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		TokensForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchinfer_pool_tokens_forwarded_total",
			Help:        "Tokens consumed by the model across all slots.",
			ConstLabels: labels,
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchinfer_pool_evictions_total",
			Help:        "Slots returned to the free pool.",
			ConstLabels: labels,
		}),
		GenerationsStart: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchinfer_generations_started_total",
			Help:        "Generation loops started.",
			ConstLabels: labels,
		}),
		GenerationsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchinfer_generations_completed_total",
			Help:        "Generation loops whose slot was released, whatever their outcome.",
			ConstLabels: labels,
		}),
		Exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "batchinfer_exhaustion_events_total",
			Help:        "Times a pipeline signaled exhaustion mid-generation.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SlotsInUse,
			m.AdmissionWait.(prometheus.Collector),
			m.TokensForwarded,
			m.Evictions,
			m.GenerationsStart,
			m.GenerationsDone,
			m.Exhaustions,
		)
	}
	return m
}

// NoopPoolMetrics returns a PoolMetrics whose instruments are never
// registered, for unit tests that don't want to touch the default
// registerer or collide across parallel test pools.
func NoopPoolMetrics() *PoolMetrics {
	return NewPoolMetrics(nil, "test")
}
