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

// batchd is a minimal HTTP harness around the batched inference core. The
// real transport (WebSocket + JSON/BSON, per spec.md §1) is out of scope;
// this binary exists so the core is runnable and curl-able the way
// cmd/ratelimiter-api and cmd/tfd-proxy make their packages runnable.
//
// Usage:
//
//	go run ./cmd/batchd -pools gpu0,gpu1 -batch_size 16 -max_concurrency 16
//
//	curl -XPOST localhost:8080/command -d '{"echo_id":"1","command":"create_state","data":"alice"}'
//	curl -XPOST localhost:8080/command -d '{"echo_id":"2","command":"infer","data":{
//	    "states":["alice"], "tokens":["hello"], "transformers":[[]],
//	    "sampler":"sp", "terminal":"t", "update_prompt":true}}'
//	curl localhost:8080/metrics
//	curl localhost:8080/healthz
//
// A fresh server has no components registered: create a sampler and a
// terminal (create_sampler/create_terminal) before the first infer, or every
// generation fails validation with "unknown component id".
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"batchinfer/internal/api"
	"batchinfer/internal/pipeline"
	"batchinfer/internal/pool"
	"batchinfer/internal/registry"
	"batchinfer/internal/shard"
	"batchinfer/internal/telemetry"
	"batchinfer/internal/tokenizer"
	"batchinfer/pkg/gpumodel"
)

func main() {
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address")
	poolNames := flag.String("pools", "gpu0", "Comma-separated pool ids, one per GPU context")
	batchSize := flag.Int("batch_size", 16, "Slots per pool (BatchPool capacity)")
	maxConcurrency := flag.Int("max_concurrency", 16, "Admission permits shared across all pools")
	variantFlag := flag.String("variant", "a", "Model variant: a or b")
	numEmbed := flag.Int("num_embed", 64, "Embedding width")
	vocab := flag.Int("vocab", 256, "Vocabulary size (256 matches the byte tokenizer)")
	tickInterval := flag.Duration("tick_interval", 2*time.Millisecond, "Pool batching cadence")
	shutdownTimeout := flag.Duration("shutdown_timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")
	flag.Parse()

	variant := gpumodel.VariantA
	if strings.EqualFold(*variantFlag, "b") {
		variant = gpumodel.VariantB
	}
	info := gpumodel.Info{Variant: variant, NumEmbed: *numEmbed, Vocab: *vocab}

	names := strings.Split(*poolNames, ",")
	pools := make(map[string]*pool.BatchPool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		kernel := gpumodel.NewKernel(variant, info)
		model := gpumodel.NewModel(kernel)
		metrics := telemetry.NewPoolMetrics(prometheus.DefaultRegisterer, name)
		pools[name] = pool.New(name, model, *batchSize, pool.Options{
			TickInterval: *tickInterval,
			Metrics:      metrics,
		})
	}
	if len(pools) == 0 {
		log.Fatalf("batchd: -pools must name at least one pool")
	}

	router := shard.NewRouter(pools)
	router.Start()

	reg := registry.New(variant, info.StateWidth(), router)
	components := pipeline.NewRegistries()
	sem := semaphore.NewWeighted(int64(*maxConcurrency))
	svc := api.New(reg, router, sem, components, tokenizer.ByteTokenizer{}, 0)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "pools": names})
	})
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		handleCommand(w, r, svc)
	})

	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}

	go func() {
		fmt.Printf("batchd listening on %s (pools: %s)\n", *httpAddr, *poolNames)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("batchd: listen on %s: %v", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down batchd...")
	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("batchd: http shutdown: %v", err)
	}
	router.Stop()
	fmt.Println("batchd stopped.")
}

// handleCommand decodes one InboundCommand, dispatches it, and always writes
// back an OutboundResponse — a malformed body is the one case that never
// reaches api.Dispatch, so it is reported the same way spec.md §8's
// malformed-JSON scenario expects: an error response with no echo id.
func handleCommand(w http.ResponseWriter, r *http.Request, svc *api.InferenceAPI) {
	w.Header().Set("Content-Type", "application/json")
	var cmd api.InboundCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		_ = json.NewEncoder(w).Encode(api.OutboundResponse{
			Status: "error",
			Error:  fmt.Sprintf("malformed request payload: %v", err),
		})
		return
	}
	resp := api.Dispatch(r.Context(), svc, cmd)
	_ = json.NewEncoder(w).Encode(resp)
}
