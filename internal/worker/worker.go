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

// Package worker is the deferred-request worker (C5): it pulls a batch
// of entries from its node's stream, re-checks the rate limit for each,
// executes the upstream call when admitted, and records the outcome.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/appregistry"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/deferred"
	"gatekeeper/internal/kv"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/stream"
)

// newBodyReader returns an io.Reader for an optional request body. A nil
// body (bodyless methods, spec.md §3) becomes http.NoBody.
func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

const (
	batchSize  = 3
	blockTime  = 5 * time.Second
	outcomeTTL = 48 * time.Hour
)

// Worker implements pool.Worker: it satisfies Run(ctx, consumerID) and
// Stop() without importing the pool package, keeping the dependency
// one-directional (pool -> worker via a factory closure wired in main).
type Worker struct {
	stream *stream.Stream
	engine *ratelimit.Engine
	apps   *appregistry.Registry
	store  *kv.Store
	client *http.Client
	audit  *audit.Multi
	log    *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// New builds a Worker. audit may be nil when no archive sinks are configured.
func New(st *stream.Stream, engine *ratelimit.Engine, apps *appregistry.Registry, store *kv.Store, client *http.Client, auditMulti *audit.Multi, log *zap.Logger) *Worker {
	return &Worker{
		stream:   st,
		engine:   engine,
		apps:     apps,
		store:    store,
		client:   client,
		audit:    auditMulti,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Run processes batches from the stream as consumerID until Stop is called.
func (w *Worker) Run(ctx context.Context, consumerID string) {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		entries, err := w.stream.ReadGroup(ctx, consumerID, batchSize, blockTime)
		if err != nil {
			w.log.Warn("worker: read group failed", zap.String("consumer", consumerID), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			w.process(ctx, entry)
		}
	}
}

// Stop signals Run to exit after its current iteration.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, entry stream.Entry) {
	req := entry.Request

	app, err := w.apps.Load(ctx, req.AppID)
	if err != nil {
		w.fail(ctx, entry.ID, req, fmt.Sprintf("app lookup failed: %v", err))
		return
	}

	decision, err := w.engine.Decide(ctx, req.AppID, app.RateLimit)
	if err != nil {
		w.fail(ctx, entry.ID, req, fmt.Sprintf("rate limit re-check failed: %v", err))
		return
	}

	if !decision.Admit {
		w.requeue(ctx, entry.ID, req)
		return
	}

	statusCode, err := w.callUpstream(ctx, app.BaseURL, req)
	if err != nil {
		w.fail(ctx, entry.ID, req, err.Error())
		return
	}
	w.complete(ctx, entry.ID, req, statusCode)
}

func (w *Worker) callUpstream(ctx context.Context, baseURL string, req deferred.Request) (int, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, newBodyReader(req.Body))
	if err != nil {
		return 0, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := w.client.Do(httpReq)
	metrics.UpstreamLatency.WithLabelValues(req.AppID, req.Path).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("upstream call failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (w *Worker) requeue(ctx context.Context, entryID string, req deferred.Request) {
	req.EnqueuedAt = time.Now().UnixMilli()
	if _, err := w.stream.Append(ctx, req); err != nil {
		w.log.Error("worker: failed to requeue denied request", zap.String("ticket", req.TicketID), zap.Error(err))
	}
	if err := w.stream.Ack(ctx, entryID); err != nil {
		w.log.Error("worker: failed to ack requeued entry", zap.String("ticket", req.TicketID), zap.Error(err))
	}
}

func (w *Worker) complete(ctx context.Context, entryID string, req deferred.Request, statusCode int) {
	outcome := deferred.Outcome{Status: deferred.StatusCompleted, StatusCode: statusCode}
	w.finish(ctx, entryID, req, outcome)
}

func (w *Worker) fail(ctx context.Context, entryID string, req deferred.Request, errMsg string) {
	outcome := deferred.Outcome{Status: deferred.StatusFailed, Error: errMsg}
	w.finish(ctx, entryID, req, outcome)
}

func (w *Worker) finish(ctx context.Context, entryID string, req deferred.Request, outcome deferred.Outcome) {
	payload, err := outcome.Encode()
	if err != nil {
		w.log.Error("worker: failed to encode outcome", zap.String("ticket", req.TicketID), zap.Error(err))
		return
	}
	if err := w.store.Set(ctx, "response:"+req.TicketID, payload, outcomeTTL); err != nil {
		w.log.Error("worker: failed to write outcome", zap.String("ticket", req.TicketID), zap.Error(err))
	}
	if err := w.stream.Ack(ctx, entryID); err != nil {
		w.log.Error("worker: failed to ack entry", zap.String("ticket", req.TicketID), zap.Error(err))
	}
	metrics.OutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()

	if w.audit != nil {
		w.audit.Publish(ctx, audit.OutcomeEvent{
			TicketID:     req.TicketID,
			AppID:        req.AppID,
			Status:       string(outcome.Status),
			StatusCode:   outcome.StatusCode,
			Error:        outcome.Error,
			RecordedAtMs: time.Now().UnixMilli(),
		})
	}
}
