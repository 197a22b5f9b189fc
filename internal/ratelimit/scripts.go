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

import "github.com/redis/go-redis/v9"

// Each strategy's read-compute-write cycle (spec.md §4.2) runs as one Lua
// script so the whole decision is a single atomic round trip against the
// shard owning its hash-tagged keys — see the Eval doc comment in
// internal/kv/client.go for why this stands in for the abstract
// WATCH/commit/retry protocol described in the design notes.

var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local requests = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key)) or 0
if current >= requests then
	return 0
end

local count = redis.call('INCR', key)
if count == 1 then
	redis.call('EXPIRE', key, window)
end
return 1
`)

var slidingWindowScript = redis.NewScript(`
local currentKey = KEYS[1]
local previousKey = KEYS[2]
local requests = tonumber(ARGV[1])
local elapsed = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', currentKey)) or 0
local previous = tonumber(redis.call('GET', previousKey)) or 0
local estimate = previous * (1 - elapsed) + current
if estimate >= requests then
	return 0
end

redis.call('INCR', currentKey)
redis.call('EXPIRE', currentKey, ttl)
return 1
`)

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local burst = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'lastRefill')
local tokens = tonumber(bucket[1])
local lastRefill = tonumber(bucket[2])
if tokens == nil then
	tokens = burst
	lastRefill = now
end

local elapsedSec = (now - lastRefill) / 1000
if elapsedSec > 0 then
	tokens = math.min(burst, tokens + elapsedSec * refillRate)
end

if tokens < 1 then
	return 0
end

tokens = tokens - 1
redis.call('HSET', key, 'tokens', tokens, 'lastRefill', now)
redis.call('EXPIRE', key, ttl)
return 1
`)

var leakyBucketScript = redis.NewScript(`
local key = KEYS[1]
local requests = tonumber(ARGV[1])
local leakRate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'count', 'lastLeak')
local count = tonumber(bucket[1]) or 0
local lastLeak = tonumber(bucket[2]) or now

local elapsedSec = (now - lastLeak) / 1000
if elapsedSec > 0 then
	count = math.max(0, count - math.floor(elapsedSec * leakRate))
end

if count >= requests then
	return 0
end

count = count + 1
redis.call('HSET', key, 'count', count, 'lastLeak', now)
redis.call('EXPIRE', key, ttl)
return 1
`)

var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local requests = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - windowMs)
local count = redis.call('ZCARD', key)
if count >= requests then
	return 0
end

redis.call('ZADD', key, now, tostring(now))
redis.call('EXPIRE', key, ttl)
return 1
`)
