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

// Package stream is the per-node request stream (C3): an append-only log
// of deferred requests with consumer-group delivery semantics, built on
// top of the generic stream primitives in internal/kv.
package stream

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/deferred"
	"gatekeeper/internal/kv"
)

const payloadField = "request"

// store is the slice of kv.Store's surface Stream needs, following the
// same narrow consumer-defined-interface pattern internal/ratelimit and
// internal/appregistry use.
type store interface {
	XGroupCreateMkStream(ctx context.Context, key, group string) error
	XAdd(ctx context.Context, key, field, value string) (string, error)
	XReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration, field string) ([]kv.StreamMessage, error)
	XAck(ctx context.Context, key, group string, ids ...string) error
	XLen(ctx context.Context, key string) (int64, error)
	XPendingOldestID(ctx context.Context, key, group string) (string, error)
	XTrimMinID(ctx context.Context, key, minID string) error
	XGroupDelConsumer(ctx context.Context, key, group, consumer string) error
}

// Stream is one node's deferred-request log and its consumer group.
type Stream struct {
	store     store
	nodeID    string
	streamKey string
	groupKey  string
}

// New returns the Stream for nodeID. The caller must call EnsureGroup
// once before reading.
func New(store store, nodeID string) *Stream {
	return &Stream{
		store:     store,
		nodeID:    nodeID,
		streamKey: "stream:" + nodeID,
		groupKey:  "group:" + nodeID,
	}
}

// EnsureGroup idempotently creates the node's consumer group, creating the
// stream itself if it does not yet exist (spec.md §4.4 "Group creation").
func (s *Stream) EnsureGroup(ctx context.Context) error {
	return s.store.XGroupCreateMkStream(ctx, s.streamKey, s.groupKey)
}

// Append enqueues req onto the tail of the stream.
func (s *Stream) Append(ctx context.Context, req deferred.Request) (string, error) {
	payload, err := req.Encode()
	if err != nil {
		return "", fmt.Errorf("gatekeeper/stream: encode request: %w", err)
	}
	return s.store.XAdd(ctx, s.streamKey, payloadField, payload)
}

// Entry is one delivered-but-unacknowledged stream entry.
type Entry struct {
	ID      string
	Request deferred.Request
}

// ReadGroup reads up to count new entries for consumer, blocking up to
// block for at least one.
func (s *Stream) ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	msgs, err := s.store.XReadGroup(ctx, s.streamKey, s.groupKey, consumer, count, block, payloadField)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		req, err := deferred.Decode(m.Value)
		if err != nil {
			// A malformed entry should never block the rest of the batch;
			// ack it so the stream drains and move on.
			_ = s.Ack(ctx, m.ID)
			continue
		}
		entries = append(entries, Entry{ID: m.ID, Request: req})
	}
	return entries, nil
}

// Ack acknowledges entry ids, removing them from the pending list.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.store.XAck(ctx, s.streamKey, s.groupKey, ids...)
}

// Len returns the current stream length.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	return s.store.XLen(ctx, s.streamKey)
}

// OldestPendingID returns the id of the oldest still-unacknowledged entry,
// or "" if nothing is pending.
func (s *Stream) OldestPendingID(ctx context.Context) (string, error) {
	return s.store.XPendingOldestID(ctx, s.streamKey, s.groupKey)
}

// TrimToMinID trims the stream so no entry older than minID remains. C4
// uses this together with OldestPendingID so a trim never discards
// in-flight work (spec.md §4.3).
func (s *Stream) TrimToMinID(ctx context.Context, minID string) error {
	return s.store.XTrimMinID(ctx, s.streamKey, minID)
}

// DeleteConsumer removes consumer from the group, abandoning whatever
// entries were still pending under its name (spec.md §4.4, §9 open question).
func (s *Stream) DeleteConsumer(ctx context.Context, consumer string) error {
	return s.store.XGroupDelConsumer(ctx, s.streamKey, s.groupKey, consumer)
}
