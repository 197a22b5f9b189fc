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

// Package appregistry reads the Application entity (spec.md §3) from the
// shared store. Creation, mutation, and deletion belong to the external
// management API (out of scope per spec.md §1); this package only loads
// what C6 and C5 need to proxy and re-check a request.
package appregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gatekeeper/internal/ratelimit"
)

// ErrNotFound is returned when an app id has no registered application.
var ErrNotFound = errors.New("gatekeeper/appregistry: application not found")

// App is the resolved view of an application's routing and limiting config.
type App struct {
	ID        string
	Name      string
	BaseURL   string
	UserID    string
	RateLimit ratelimit.Config
}

// store is the slice of kv.Store's surface Registry needs.
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Registry loads App records from the shared store's "app:<id>" hash
// (spec.md §6).
type Registry struct {
	store store
}

// New builds a Registry backed by store.
func New(store store) *Registry {
	return &Registry{store: store}
}

// Load fetches and parses the application identified by appID.
func (r *Registry) Load(ctx context.Context, appID string) (App, error) {
	fields, err := r.store.HGetAll(ctx, "app:"+appID)
	if err != nil {
		return App{}, fmt.Errorf("gatekeeper/appregistry: load %s: %w", appID, err)
	}
	if len(fields) == 0 {
		return App{}, ErrNotFound
	}

	var cfg ratelimit.Config
	if raw := fields["rateLimit"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return App{}, fmt.Errorf("gatekeeper/appregistry: app %s has malformed rateLimit: %w", appID, err)
		}
	}

	return App{
		ID:        appID,
		Name:      fields["name"],
		BaseURL:   fields["baseUrl"],
		UserID:    fields["userId"],
		RateLimit: cfg,
	}, nil
}
