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

package kv

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// shardPicker maps a hash-tagged key to one of several independent Redis
// deployments using rendezvous (highest random weight) hashing — the same
// algorithm go-redis's own Ring client uses internally to pick shards, so
// adding or removing a shard only reshuffles the minimal necessary slice of
// keys instead of the whole keyspace.
//
// It operates purely on the "{...}" hash-tag portion of a key, mirroring
// Redis Cluster's own hash-tag convention (spec.md §6): every key sharing a
// hash tag for one (strategy, app) lands on the same shard, so the Lua
// scripts backing C2's optimistic-commit protocol remain single-shard,
// multi-key transactions.
type shardPicker struct {
	rv *rendezvous.Rendezvous
}

func newShardPicker(shardNames []string) *shardPicker {
	return &shardPicker{
		rv: rendezvous.New(shardNames, rendezvousHash),
	}
}

// pick returns the shard name responsible for key.
func (p *shardPicker) pick(key string) string {
	return p.rv.Lookup(hashTag(key))
}

// hashTag extracts the "{...}" portion of a Redis key, falling back to the
// whole key when no braces are present — identical semantics to Redis
// Cluster's own hash-tag extraction.
func hashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end < 0 {
		return key
	}
	if end == 0 {
		return key
	}
	return key[start+1 : start+1+end]
}

// rendezvousHash matches the hasher go-redis's Ring client uses for its own
// rendezvous-hash shard selection.
func rendezvousHash(s string) uint64 {
	return xxhash.Sum64String(s)
}
