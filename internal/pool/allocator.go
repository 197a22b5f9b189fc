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

// Package pool is the worker pool manager (C4): node-id allocation and
// the scaling loop that spawns and retires workers against an observed
// stream backlog.
package pool

import (
	"context"
	"errors"
	"fmt"
)

// MaxNodeIDs bounds how many node ids may ever be issued cluster-wide
// (spec.md §3, §4.4, property 8).
const MaxNodeIDs = 100

// ErrNodeIDCeiling is returned when the cluster has already issued
// MaxNodeIDs distinct node ids and no freed id is available.
var ErrNodeIDCeiling = errors.New("gatekeeper/pool: maximum number of node IDs reached")

const (
	poolKey    = "server:pool"
	counterKey = "server:counter"
)

// allocatorStore is the slice of kv.Store's surface Allocator needs.
type allocatorStore interface {
	SPop(ctx context.Context, key string) (member string, ok bool, err error)
	SAdd(ctx context.Context, key string, members ...interface{}) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Allocator hands out and reclaims node ids (spec.md §9's
// "acquire()/release(id)" abstraction over the free-pool set and counter).
type Allocator struct {
	store allocatorStore
}

// NewAllocator builds an Allocator backed by store.
func NewAllocator(store allocatorStore) *Allocator {
	return &Allocator{store: store}
}

// Acquire pops a free node id if one exists, else mints a new one by
// incrementing the shared counter. It fails once MaxNodeIDs ids have ever
// been issued.
func (a *Allocator) Acquire(ctx context.Context) (string, error) {
	if id, ok, err := a.store.SPop(ctx, poolKey); err != nil {
		return "", fmt.Errorf("gatekeeper/pool: acquire: %w", err)
	} else if ok {
		return id, nil
	}

	n, err := a.store.Incr(ctx, counterKey)
	if err != nil {
		return "", fmt.Errorf("gatekeeper/pool: acquire: %w", err)
	}
	if n > MaxNodeIDs {
		return "", ErrNodeIDCeiling
	}
	return fmt.Sprintf("node:%d", n), nil
}

// Release returns id to the free pool for reuse by a future Acquire.
func (a *Allocator) Release(ctx context.Context, id string) error {
	return a.store.SAdd(ctx, poolKey, id)
}
