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

// Package metrics exposes the process-global Prometheus series for
// gatekeeper's decision engine, stream backlog, and worker pool — the
// same global-counter style as the teacher's churn telemetry module,
// generalized from VSA-specific KPIs to rate-limit/queue KPIs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts admit/deny decisions per strategy.
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_decisions_total",
		Help: "Total rate-limit decisions by strategy and outcome (admit/deny).",
	}, []string{"strategy", "outcome"})

	// StoreRetries counts transient-error retries the kv adapter performed
	// against a Redis shard (spec.md §4.1/§7 cluster-redirect and network
	// timeout retries), not decision-level retries — the rate-limit
	// engine's Lua scripts are single round trips with no client-side
	// retry loop of their own.
	StoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_store_retries_total",
		Help: "Number of transient-error retries performed by the kv adapter.",
	}, []string{"shard"})

	// StreamLength tracks the observed backlog length per node.
	StreamLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatekeeper_stream_length",
		Help: "Current length of a node's deferred-request stream.",
	}, []string{"node"})

	// WorkerCount tracks the currently running worker count per node.
	WorkerCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatekeeper_worker_count",
		Help: "Current worker count for a node.",
	}, []string{"node"})

	// UpstreamLatency observes upstream HTTP call duration.
	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_upstream_latency_seconds",
		Help:    "Latency of upstream HTTP calls performed by workers and the proxy handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"app_id", "path"})

	// OutcomesTotal counts finalized ticket outcomes.
	OutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_outcomes_total",
		Help: "Total finalized deferred-request outcomes by status.",
	}, []string{"status"})

	// AuditPublishErrors counts failed best-effort audit sink writes (Kafka/Postgres).
	AuditPublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_audit_publish_errors_total",
		Help: "Errors encountered publishing to the optional outcome audit sinks.",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		StoreRetries,
		StreamLength,
		WorkerCount,
		UpstreamLatency,
		OutcomesTotal,
		AuditPublishErrors,
	)
}

// Serve starts a dedicated /metrics HTTP server on addr in a background
// goroutine. A no-op when addr is empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
}
