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

// Package deferred defines the DeferredRequest and Outcome entities
// (spec.md §3) and their stable wire encoding — the design notes call
// for "a structured record, not free-form JSON in the core API", so the
// JSON tags below are the one place that shape is allowed to live.
package deferred

import "encoding/json"

// Request is a single admitted-but-denied HTTP call, queued for a worker
// to replay later.
type Request struct {
	TicketID   string            `json:"ticketId"`
	AppID      string            `json:"appId"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body,omitempty"`
	EnqueuedAt int64             `json:"enqueuedAt"` // unix millis
}

// Encode serialises r to the stable wire form written to a stream entry.
func (r Request) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stream entry payload back into a Request.
func Decode(payload string) (Request, error) {
	var r Request
	err := json.Unmarshal([]byte(payload), &r)
	return r, err
}

// OutcomeStatus is the lifecycle state of a ticket's recorded result.
type OutcomeStatus string

const (
	StatusPending    OutcomeStatus = "pending"
	StatusProcessing OutcomeStatus = "processing"
	StatusCompleted  OutcomeStatus = "completed"
	StatusFailed     OutcomeStatus = "failed"
)

// Outcome is the recorded result of a deferred request, written once by
// the worker that processed it (spec.md §3, §4.5, §4.7).
type Outcome struct {
	Status     OutcomeStatus `json:"status"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Encode serialises o to JSON for storage under response:<ticketId>.
func (o Outcome) Encode() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeOutcome parses the JSON stored under response:<ticketId>.
func DecodeOutcome(payload string) (Outcome, error) {
	var o Outcome
	err := json.Unmarshal([]byte(payload), &o)
	return o, err
}

// Pending is the outcome a status read returns in the absence of a
// stored record.
var Pending = Outcome{Status: StatusPending}
