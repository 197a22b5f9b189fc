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

// Package localcache is the opt-in, default-off local admission cache
// (D4): a fast in-process pre-check in front of the authoritative C2
// decision. It never overrides C2 — it only lets a node skip the store
// round trip for a bounded run of requests per app before forcing a real
// check, trading a small amount of staleness for latency under load.
//
// The shape is the teacher's Vector-Scalar Accumulator pattern: each app
// gets a small "trust budget" (scalar) that TryConsume spends per fast
// admission (vector), with the same armed/lastAccessed hysteresis the
// teacher's Store and Worker use to decide when to re-arm and when to
// evict — repurposed here from request-commit batching to request-count
// trust, since this cache never itself decides admission past its
// budget; it only ever short-circuits toward calling C2 less often.
package localcache

import (
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/vsa"
)

// Cache is the per-node local admission pre-check. The zero value is not
// usable; build one with New.
type Cache struct {
	entries         sync.Map // string -> *managedEntry
	commitThreshold int64
	evictionAge     time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

type managedEntry struct {
	mu           sync.Mutex
	trust        *vsa.VSA
	armed        atomic.Bool
	lastAccessed int64 // unix nanos, atomic
}

// New builds a Cache. commitThreshold is how many fast admissions a app
// may receive before a reconcile with C2 is forced; evictionAge bounds
// how long an idle app's entry is kept in memory.
func New(commitThreshold int64, evictionAge time.Duration) *Cache {
	return &Cache{
		commitThreshold: commitThreshold,
		evictionAge:     evictionAge,
		stopChan:        make(chan struct{}),
	}
}

// Start launches the background eviction loop.
func (c *Cache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.evictionLoop()
	}()
}

// Stop halts the eviction loop.
func (c *Cache) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Cache) entryFor(appID string) *managedEntry {
	if v, ok := c.entries.Load(appID); ok {
		return v.(*managedEntry)
	}
	entry := &managedEntry{trust: vsa.New(c.commitThreshold)}
	entry.armed.Store(true)
	actual, _ := c.entries.LoadOrStore(appID, entry)
	return actual.(*managedEntry)
}

// TryFastAdmit attempts to admit without consulting the authoritative
// engine. ok is false when the app's trust budget is exhausted and the
// caller must fall through to Engine.Decide, then call Reconcile.
func (c *Cache) TryFastAdmit(appID string) (ok bool) {
	entry := c.entryFor(appID)
	atomic.StoreInt64(&entry.lastAccessed, time.Now().UnixNano())

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.armed.Load() {
		return false
	}
	return entry.trust.TryConsume(1)
}

// Reconcile reports the authoritative decision back to the cache after a
// fall-through check. An authoritative admit replenishes the app's trust
// budget (re-arms the fast path); a deny disarms it, so every later
// TryFastAdmit for the app returns false and the caller goes to the
// authoritative engine until an admitting reconcile re-arms it.
// TryFastAdmit itself never fabricates a deny.
func (c *Cache) Reconcile(appID string, admitted bool) {
	entry := c.entryFor(appID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if admitted {
		entry.trust = vsa.New(c.commitThreshold)
		entry.armed.Store(true)
		return
	}
	entry.armed.Store(false)
}

func (c *Cache) evictionLoop() {
	ticker := time.NewTicker(c.evictionAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runEvictionCycle()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache) runEvictionCycle() {
	now := time.Now()
	c.entries.Range(func(key, value interface{}) bool {
		entry := value.(*managedEntry)
		last := atomic.LoadInt64(&entry.lastAccessed)
		if now.Sub(time.Unix(0, last)) > c.evictionAge {
			c.entries.Delete(key)
		}
		return true
	})
}
