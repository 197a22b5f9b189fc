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

// Package proxy is the proxy handler (C6): the synchronous admit path
// that either forwards a request to its application's upstream or hands
// it off to the deferred pipeline and returns a ticket.
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatekeeper/internal/appregistry"
	"gatekeeper/internal/deferred"
	"gatekeeper/internal/localcache"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/stream"
)

// Handler implements the admit-or-enqueue contract of spec.md §4.6.
type Handler struct {
	apps   *appregistry.Registry
	engine *ratelimit.Engine
	stream *stream.Stream
	client *http.Client
	cache  *localcache.Cache // optional (D4); nil when disabled
	log    *zap.Logger
}

// New builds a proxy Handler. stream is this node's deferred-request
// stream, used when a request must be enqueued. cache may be nil to run
// with spec.md's exact semantics (every decision hits C2 directly).
func New(apps *appregistry.Registry, engine *ratelimit.Engine, st *stream.Stream, client *http.Client, cache *localcache.Cache, log *zap.Logger) *Handler {
	return &Handler{apps: apps, engine: engine, stream: st, client: client, cache: cache, log: log}
}

// ServeHTTP handles any method on /apis/<appId>/<tail...>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appID, tail, ok := splitAppPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown application")
		return
	}

	app, err := h.apps.Load(r.Context(), appID)
	if err != nil {
		if errors.Is(err, appregistry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown application")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load application")
		return
	}

	var admit bool
	if h.cache != nil && h.cache.TryFastAdmit(appID) {
		admit = true
	} else {
		decision, err := h.engine.Decide(r.Context(), appID, app.RateLimit)
		if err != nil {
			if errors.Is(err, ratelimit.ErrInvalidConfig) {
				writeError(w, http.StatusBadRequest, "invalid rate limit configuration")
				return
			}
			writeError(w, http.StatusInternalServerError, "rate limit decision failed")
			return
		}
		if h.cache != nil {
			h.cache.Reconcile(appID, decision.Admit)
		}
		admit = decision.Admit
	}

	if admit {
		h.forward(w, r, appID, app.BaseURL, tail)
		return
	}
	h.enqueue(w, r, appID, tail)
}

// splitAppPath extracts the app id and tail from /apis/<appId>/<tail...>.
func splitAppPath(path string) (appID, tail string, ok bool) {
	const prefix = "/apis/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, appID, baseURL, tail string) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/") + "/" + tail)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalid upstream URL")
		return
	}
	if target.RawQuery == "" {
		target.RawQuery = r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	upstreamReq.Header = r.Header.Clone()
	upstreamReq.Host = target.Host
	upstreamReq.Header.Set("host", target.Host)
	forwardedFor := r.RemoteAddr
	if existing := upstreamReq.Header.Get("x-forwarded-for"); existing != "" {
		forwardedFor = existing + ", " + r.RemoteAddr
	}
	upstreamReq.Header.Set("x-forwarded-for", forwardedFor)

	start := time.Now()
	resp, err := h.client.Do(upstreamReq)
	metrics.UpstreamLatency.WithLabelValues(appID, tail).Observe(time.Since(start).Seconds())
	if err != nil {
		h.log.Warn("proxy: upstream call failed", zap.String("baseUrl", baseURL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, appID, tail string) {
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = b
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	ticketID := uuid.NewString()
	req := deferred.Request{
		TicketID:   ticketID,
		AppID:      appID,
		Method:     r.Method,
		Path:       tail,
		Headers:    headers,
		Body:       body,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	if _, err := h.stream.Append(r.Context(), req); err != nil {
		h.log.Error("proxy: failed to enqueue deferred request", zap.String("app", appID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"data": map[string]interface{}{
			"requestId": ticketID,
			"message":   "request queued for deferred execution",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
