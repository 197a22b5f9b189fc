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

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/metrics"
)

// Decision is the outcome of a single Decide call.
type Decision struct {
	Admit bool
}

// store is the slice of kv.Store's surface Engine needs — an EVAL-only
// dependency, narrowed the way the teacher scopes its persistence
// interfaces to exactly what a consumer calls, so a strategy test can
// fake the atomic primitive without dialing Redis.
type store interface {
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// Engine is the rate-limit decision engine (C2). Besides counting each
// decision in metrics.DecisionsTotal, its only side effects are the
// LimiterState mutations each strategy owns; it carries no other state
// of its own.
type Engine struct {
	store store
	clock clock
}

// NewEngine builds an Engine backed by store.
func NewEngine(store store) *Engine {
	return &Engine{store: store, clock: realClock{}}
}

// Decide evaluates config for appID and returns admit or deny, atomically
// mutating whatever LimiterState the strategy owns when admitting.
func (e *Engine) Decide(ctx context.Context, appID string, cfg Config) (d Decision, err error) {
	if err := cfg.Validate(); err != nil {
		return Decision{}, err
	}
	defer func() {
		if err != nil {
			return
		}
		outcome := "deny"
		if d.Admit {
			outcome = "admit"
		}
		metrics.DecisionsTotal.WithLabelValues(string(cfg.Strategy), outcome).Inc()
	}()

	now := e.clock.Now()

	switch cfg.Strategy {
	case FixedWindow:
		return e.decideFixedWindow(ctx, appID, cfg, now)
	case SlidingWindow:
		return e.decideSlidingWindow(ctx, appID, cfg, now)
	case TokenBucket:
		return e.decideTokenBucket(ctx, appID, cfg, now)
	case LeakyBucket:
		return e.decideLeakyBucket(ctx, appID, cfg, now)
	case SlidingLog:
		return e.decideSlidingLog(ctx, appID, cfg, now)
	default:
		return Decision{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}
}

func admit(raw interface{}, err error) (Decision, error) {
	if err != nil {
		return Decision{}, err
	}
	n, _ := raw.(int64)
	return Decision{Admit: n == 1}, nil
}

func (e *Engine) decideFixedWindow(ctx context.Context, appID string, cfg Config, now time.Time) (Decision, error) {
	bucket := now.Unix() / int64(cfg.Window)
	key := fmt.Sprintf("{fixed:%s}:%d", appID, bucket)
	raw, err := e.store.Eval(ctx, fixedWindowScript, []string{key}, cfg.Requests, cfg.Window)
	return admit(raw, err)
}

func (e *Engine) decideSlidingWindow(ctx context.Context, appID string, cfg Config, now time.Time) (Decision, error) {
	windowSec := int64(cfg.Window)
	bucket := now.Unix() / windowSec
	currentKey := fmt.Sprintf("{sliding:%s}:%d", appID, bucket)
	previousKey := fmt.Sprintf("{sliding:%s}:%d", appID, bucket-1)

	elapsed := float64(now.Unix()%windowSec) / float64(windowSec)
	ttl := 2 * cfg.Window

	raw, err := e.store.Eval(ctx, slidingWindowScript, []string{currentKey, previousKey}, cfg.Requests, elapsed, ttl)
	return admit(raw, err)
}

func (e *Engine) decideTokenBucket(ctx context.Context, appID string, cfg Config, now time.Time) (Decision, error) {
	key := fmt.Sprintf("{bucket:%s}", appID)
	burst := cfg.burst()
	refillRate := cfg.refillRate()
	ttl := int(2 * math.Ceil(float64(burst)/refillRate))

	raw, err := e.store.Eval(ctx, tokenBucketScript, []string{key}, burst, refillRate, now.UnixMilli(), ttl)
	return admit(raw, err)
}

func (e *Engine) decideLeakyBucket(ctx context.Context, appID string, cfg Config, now time.Time) (Decision, error) {
	key := fmt.Sprintf("{leaky:%s}", appID)
	leakRate := cfg.leakRate()
	ttl := int(2 * math.Ceil(float64(cfg.Requests)/leakRate))

	raw, err := e.store.Eval(ctx, leakyBucketScript, []string{key}, cfg.Requests, leakRate, now.UnixMilli(), ttl)
	return admit(raw, err)
}

func (e *Engine) decideSlidingLog(ctx context.Context, appID string, cfg Config, now time.Time) (Decision, error) {
	key := fmt.Sprintf("{log:%s}", appID)
	windowMs := int64(cfg.Window) * 1000

	raw, err := e.store.Eval(ctx, slidingLogScript, []string{key}, cfg.Requests, now.UnixMilli(), windowMs, cfg.Window)
	return admit(raw, err)
}
