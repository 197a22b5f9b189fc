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

// Package status is the status handler (C7): a read-only lookup of a
// deferred request's recorded outcome.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatekeeper/internal/deferred"
)

// store is the slice of kv.Store's surface Handler needs.
type store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Handler serves GET /apis/status/<ticketId>.
type Handler struct {
	store store
	log   *zap.Logger
}

// New builds a status Handler.
func New(store store, log *zap.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// ServeHTTP returns the outcome for a ticket id, or {status:"pending"} if
// none has been recorded yet. No mutation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/apis/status/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	ticketID := strings.TrimPrefix(r.URL.Path, prefix)
	if ticketID == "" {
		http.NotFound(w, r)
		return
	}

	payload, ok, err := h.store.Get(r.Context(), "response:"+ticketID)
	if err != nil {
		h.log.Error("status: failed to read outcome", zap.String("ticket", ticketID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read status"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, deferred.Pending)
		return
	}

	outcome, err := deferred.DecodeOutcome(payload)
	if err != nil {
		h.log.Error("status: malformed outcome", zap.String("ticket", ticketID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "malformed outcome"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
