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

package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/kv"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/stream"
)

// Worker is the lifecycle contract the manager drives. internal/worker's
// Worker type satisfies this; the manager only knows how to start and
// stop one, not how it processes entries.
type Worker interface {
	Run(ctx context.Context, consumerID string)
	Stop()
}

// WorkerFactory builds a new Worker bound to consumerID.
type WorkerFactory func(consumerID string) Worker

// Manager is the worker pool manager (C4): it owns this node's identity,
// scales Worker count against the observed stream backlog, and tears
// everything down cleanly on Stop. The scaling loop follows the same
// ticker/stopChan/WaitGroup/atomic-stopped shape as the teacher's
// background worker, generalized from commit/eviction cycles to a single
// scale cycle.
type Manager struct {
	nodeID    string
	allocator *Allocator
	stream    *stream.Stream
	factory   WorkerFactory
	log       *zap.Logger

	maxQueuedRequests int
	maxWorkers        int
	scaleInterval     time.Duration

	mu      sync.Mutex
	workers map[string]Worker

	maxStreamLength int64

	stopChan chan struct{}
	loopWG   sync.WaitGroup
	workerWG sync.WaitGroup
	stopped  uint32
}

// Options configures a Manager.
type Options struct {
	MaxQueuedRequests int
	MaxWorkers        int
	ScaleInterval     time.Duration
	MaxStreamLength   int64
}

// New allocates a node id, builds that node's stream and consumer group,
// and returns the running Manager. The caller owns calling Start to
// begin scaling and Stop to release the node id.
func New(ctx context.Context, allocator *Allocator, store *kv.Store, factory WorkerFactory, opts Options, log *zap.Logger) (*Manager, error) {
	nodeID, err := allocator.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper/pool: %w", err)
	}
	st := stream.New(store, nodeID)
	if err := st.EnsureGroup(ctx); err != nil {
		_ = allocator.Release(ctx, nodeID)
		return nil, fmt.Errorf("gatekeeper/pool: ensure group: %w", err)
	}
	return &Manager{
		nodeID:            nodeID,
		allocator:         allocator,
		stream:            st,
		factory:           factory,
		log:               log,
		maxQueuedRequests: opts.MaxQueuedRequests,
		maxWorkers:        opts.MaxWorkers,
		scaleInterval:     opts.ScaleInterval,
		maxStreamLength:   opts.MaxStreamLength,
		workers:           make(map[string]Worker),
		stopChan:          make(chan struct{}),
	}, nil
}

// Stream returns this node's deferred-request stream, so the proxy
// handler can enqueue onto the same stream the manager's workers drain.
func (m *Manager) Stream() *stream.Stream {
	return m.stream
}

// NodeID returns the node id this manager was assigned.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Start launches the scaling loop.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("worker pool manager starting", zap.String("node", m.nodeID))
	m.loopWG.Add(1)
	go func() {
		defer m.loopWG.Done()
		m.scaleLoop(ctx)
	}()
}

// Stop halts the scaling loop, stops every worker, removes their
// consumers, and returns this node's id to the free pool. Workers are
// stopped, and their goroutines waited on, before the node id is
// released — releasing it first would let another node claim this
// node's consumer group while workers are still draining.
func (m *Manager) Stop(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&m.stopped, 0, 1) {
		return
	}
	close(m.stopChan)
	m.loopWG.Wait()

	m.mu.Lock()
	consumers := make([]string, 0, len(m.workers))
	for consumerID, w := range m.workers {
		w.Stop()
		consumers = append(consumers, consumerID)
	}
	m.workers = make(map[string]Worker)
	m.mu.Unlock()

	m.workerWG.Wait()

	time.Sleep(time.Second) // grace period for in-flight batches, per spec.md §4.4
	for _, consumerID := range consumers {
		if err := m.stream.DeleteConsumer(ctx, consumerID); err != nil {
			m.log.Warn("failed to remove consumer", zap.String("consumer", consumerID), zap.Error(err))
		}
	}

	if err := m.allocator.Release(ctx, m.nodeID); err != nil {
		m.log.Warn("failed to release node id", zap.String("node", m.nodeID), zap.Error(err))
	}
	m.log.Info("worker pool manager stopped", zap.String("node", m.nodeID))
}

func (m *Manager) scaleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.scaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runScaleCycle(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runScaleCycle applies spec.md §4.4's scaling rule once:
//
//	if (L > lo OR L == 0) AND W < hi: spawn one worker.
//	else if L < lo/2 AND W > 1: retire one worker.
func (m *Manager) runScaleCycle(ctx context.Context) {
	length, err := m.stream.Len(ctx)
	if err != nil {
		m.log.Warn("scale cycle: failed to read stream length", zap.Error(err))
		return
	}
	metrics.StreamLength.WithLabelValues(m.nodeID).Set(float64(length))

	m.trimBacklog(ctx, length)

	m.mu.Lock()
	count := len(m.workers)
	m.mu.Unlock()
	metrics.WorkerCount.WithLabelValues(m.nodeID).Set(float64(count))

	lo := int64(m.maxQueuedRequests)
	hi := m.maxWorkers

	switch {
	case (length > lo || length == 0) && count < hi:
		m.spawnWorker()
	case length < lo/2 && count > 1:
		m.retireWorker()
	}
}

// trimBacklog enforces maxStreamLength (spec.md §4.3, testable property 9):
// once the stream grows past it, trim from the head, but never past the
// oldest still-pending entry, so a trim can never discard work a worker
// has not yet acked.
func (m *Manager) trimBacklog(ctx context.Context, length int64) {
	if m.maxStreamLength <= 0 || length <= m.maxStreamLength {
		return
	}
	oldestPending, err := m.stream.OldestPendingID(ctx)
	if err != nil {
		m.log.Warn("scale cycle: failed to read oldest pending id", zap.Error(err))
		return
	}
	if oldestPending == "" {
		return
	}
	if err := m.stream.TrimToMinID(ctx, oldestPending); err != nil {
		m.log.Warn("scale cycle: failed to trim stream", zap.Error(err))
	}
}

func (m *Manager) spawnWorker() {
	consumerID := fmt.Sprintf("%s:worker:%d", m.nodeID, time.Now().UnixNano())
	w := m.factory(consumerID)

	m.mu.Lock()
	m.workers[consumerID] = w
	m.mu.Unlock()

	m.log.Info("spawned worker", zap.String("consumer", consumerID))

	m.workerWG.Add(1)
	go func() {
		defer m.workerWG.Done()
		w.Run(context.Background(), consumerID)
	}()
}

func (m *Manager) retireWorker() {
	m.mu.Lock()
	var consumerID string
	var w Worker
	for id, ww := range m.workers {
		consumerID, w = id, ww
		break
	}
	if w != nil {
		delete(m.workers, consumerID)
	}
	m.mu.Unlock()

	if w == nil {
		return
	}

	m.log.Info("retiring worker", zap.String("consumer", consumerID))
	go func() {
		w.Stop()
		time.Sleep(time.Second)
		if err := m.stream.DeleteConsumer(context.Background(), consumerID); err != nil {
			m.log.Warn("failed to remove consumer", zap.String("consumer", consumerID), zap.Error(err))
		}
	}()
}
