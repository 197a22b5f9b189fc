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

// Package upstream builds the HTTP client shared by the proxy handler
// (C6, synchronous forwarding) and the worker (C5, deferred replay).
package upstream

import (
	"net/http"
	"time"
)

// NewClient returns the http.Client both the proxy handler and the
// worker use to reach application upstreams. No retries: spec.md §7
// treats upstream failures as final, recorded verbatim.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}
