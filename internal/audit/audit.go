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

// Package audit holds the optional, best-effort outcome archive sinks
// (Kafka, Postgres). Neither is authoritative: spec.md §1's non-goal "no
// durable job storage beyond the store's own persistence" still holds —
// these sinks exist purely for downstream analytics and audit trails,
// are never consulted by the status handler, and a publish failure never
// fails the worker's own outcome write.
package audit

import "context"

// OutcomeEvent is the record published to every configured sink once a
// worker finalizes a ticket.
type OutcomeEvent struct {
	TicketID     string `json:"ticketId"`
	AppID        string `json:"appId"`
	Status       string `json:"status"`
	StatusCode   int    `json:"statusCode,omitempty"`
	Error        string `json:"error,omitempty"`
	RecordedAtMs int64  `json:"recordedAtMs"`
}

// Sink is a best-effort outcome archive. Implementations must not block
// the worker for long nor treat a failure as fatal.
type Sink interface {
	Publish(ctx context.Context, event OutcomeEvent) error
	Close() error
}

// Multi fans an event out to every configured sink, reporting each
// individual failure through onErr without stopping.
type Multi struct {
	sinks []Sink
	onErr func(sinkName string, err error)
}

// NewMulti builds a Multi over sinks. onErr, if non-nil, is called for
// every sink publish failure (the caller typically logs and increments
// AuditPublishErrors).
func NewMulti(sinks []Sink, onErr func(sinkName string, err error)) *Multi {
	return &Multi{sinks: sinks, onErr: onErr}
}

// Publish fans event out to every sink.
func (m *Multi) Publish(ctx context.Context, event OutcomeEvent) {
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil && m.onErr != nil {
			m.onErr(sinkName(s), err)
		}
	}
}

// Close closes every sink, returning the first error encountered.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sinkName(s Sink) string {
	switch s.(type) {
	case *KafkaSink:
		return "kafka"
	case *PostgresSink:
		return "postgres"
	default:
		return "unknown"
	}
}
