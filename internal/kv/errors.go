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
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTransient marks an error the caller may retry, per spec.md §4.1 and §7:
// cluster-redirect errors (MOVED/ASK; the ClusterClient normally resolves
// these itself, but a direct connection can still surface one) and network
// timeouts.
var ErrTransient = errors.New("gatekeeper/kv: transient store error")

// IsTransient reports whether err should be retried by the caller.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "MOVED ") || strings.HasPrefix(msg, "ASK ") ||
		strings.Contains(msg, "CLUSTERDOWN") || errors.Is(err, context.DeadlineExceeded)
}

// withRetry retries fn up to maxRetries times with a fixed pause between
// attempts, as spec.md §4.1/§7 describe for cluster-redirect and transient
// store errors. Non-transient errors return immediately. onRetry, if not
// nil, is called once per attempt actually retried (not on the first try).
func withRetry(ctx context.Context, maxRetries int, pause time.Duration, fn func() error, onRetry func()) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		if onRetry != nil {
			onRetry()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return err
}

// isRedisNil reports whether err is redis.Nil (key/field absence), which the
// adapter treats as a normal "not found" result rather than an error.
func isRedisNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
