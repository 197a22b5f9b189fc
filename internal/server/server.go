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

// Package server wires the HTTP surface together: the proxy handler
// (C6) and the status handler (C7), behind the API-key check spec.md §6
// requires of both routes. Issuing and validating API keys themselves is
// the external management API's concern (spec.md §1); this layer only
// requires one be present.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is gatekeeper's public-facing HTTP server.
type Server struct {
	proxy  http.Handler
	status http.Handler
	log    *zap.Logger
	http   *http.Server
}

// New builds a Server. proxy handles /apis/<appId>/<tail...>; status
// handles /apis/status/<ticketId>.
func New(addr string, proxy, status http.Handler, log *zap.Logger) *Server {
	s := &Server{proxy: proxy, status: status, log: log}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// RegisterRoutes attaches gatekeeper's HTTP surface to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/apis/status/", requireAPIKey(s.status))
	mux.Handle("/apis/", requireAPIKey(s.proxy))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requireAPIKey enforces that every /apis/ request carries a non-empty
// key, via the Authorization bearer header or an api_key query parameter.
func requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey(r) == "" {
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "API key is required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKey(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return r.URL.Query().Get("api_key")
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("gatekeeper HTTP server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
