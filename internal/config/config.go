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

// Package config collects the environment-variable knobs recognised by
// gatekeeper (spec.md §6 and SPEC_FULL.md §6) into one typed struct.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-configurable knob for a single node.
type Config struct {
	// Redis connection.
	RedisAddrs    []string // REDIS_ADDRS (comma-separated), falls back to REDIS_HOST:REDIS_PORT / REDIS_URL
	RedisPassword string   // REDIS_PASSWORD
	RedisDB       int      // REDIS_DB

	HTTPPort string // PORT

	LogLevel    string // LOG_LEVEL
	MetricsAddr string // METRICS_ADDR

	KafkaBrokers      []string // KAFKA_BROKERS
	KafkaOutcomeTopic string   // KAFKA_OUTCOME_TOPIC

	PostgresDSN string // POSTGRES_DSN

	LocalCacheEnabled         bool          // LOCAL_CACHE_ENABLED
	LocalCacheCommitThreshold int64         // LOCAL_CACHE_COMMIT_THRESHOLD
	LocalCacheEvictionAge     time.Duration // LOCAL_CACHE_EVICTION_AGE

	MaxStreamLength   int64         // MAX_STREAM_LENGTH
	MaxQueuedRequests int           // MAX_QUEUED_REQUESTS
	MaxWorkers        int           // MAX_WORKERS
	ScaleInterval     time.Duration // SCALE_INTERVAL

	MaxRetries   int           // KV transient-error retry bound
	RetryTimeout time.Duration // KV transient-error retry pause
}

// FromEnv loads a Config from the process environment, applying the
// defaults spelled out in spec.md §4 and SPEC_FULL.md §6.
func FromEnv() Config {
	c := Config{
		RedisAddrs:                redisAddrs(),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envInt("REDIS_DB", 0),
		HTTPPort:                  envString("PORT", "8080"),
		LogLevel:                  envString("LOG_LEVEL", "info"),
		MetricsAddr:               os.Getenv("METRICS_ADDR"),
		KafkaBrokers:              envList("KAFKA_BROKERS"),
		KafkaOutcomeTopic:         envString("KAFKA_OUTCOME_TOPIC", "gatekeeper.outcomes"),
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		LocalCacheEnabled:         envBool("LOCAL_CACHE_ENABLED", false),
		LocalCacheCommitThreshold: envInt64("LOCAL_CACHE_COMMIT_THRESHOLD", 20),
		LocalCacheEvictionAge:     envDuration("LOCAL_CACHE_EVICTION_AGE", 10*time.Minute),
		MaxStreamLength:           envInt64("MAX_STREAM_LENGTH", 10000),
		MaxQueuedRequests:         envInt("MAX_QUEUED_REQUESTS", 100),
		MaxWorkers:                envInt("MAX_WORKERS", 10),
		ScaleInterval:             envDuration("SCALE_INTERVAL", 5*time.Second),
		MaxRetries:                envInt("KV_MAX_RETRIES", 3),
		RetryTimeout:              envDuration("KV_RETRY_TIMEOUT", 5*time.Second),
	}
	return c
}

func redisAddrs() []string {
	if v := os.Getenv("REDIS_ADDRS"); v != "" {
		return envList("REDIS_ADDRS")
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		return []string{v}
	}
	host := envString("REDIS_HOST", "127.0.0.1")
	port := envString("REDIS_PORT", "6379")
	return []string{host + ":" + port}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
