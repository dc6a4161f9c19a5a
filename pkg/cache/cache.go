// Copyright 2025 UMH Systems GmbH
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

// Package cache keeps the latest records the dashboard polls for. Lookups hit
// an in-process cache first and fall back to redis when one is configured.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
)

const (
	memoryExpiration = 10 * time.Second
	cleanupInterval  = 20 * time.Second
	redisExpiration  = 12 * time.Hour
	keyPrefix        = "tank-scada:latest:"
)

// storeIfNewer writes ARGV[1] unless the cached document carries a higher
// _seq (or an equal one when ARGV[3] is "1").
var storeIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  local ok, doc = pcall(cjson.decode, current)
  if ok and type(doc) == 'table' and doc['_seq'] then
    local cached = tonumber(doc['_seq'])
    local incoming = tonumber(ARGV[2])
    if cached > incoming or (ARGV[3] == '1' and cached == incoming) then
      return 0
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[4])
return 1
`)

// Cache is safe for concurrent use. Entries are ordered by their "_seq"
// field: a write never replaces an entry with a higher sequence.
type Cache struct {
	mu  sync.Mutex
	mem *gocache.Cache
	rdb *redis.Client
	log *zap.SugaredLogger
}

type sequenced struct {
	Seq int64 `json:"_seq"`
}

func sequenceOf(data []byte) int64 {
	var meta sequenced
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0
	}

	return meta.Seq
}

// New creates a cache. rdb may be nil for a memory-only cache.
func New(rdb *redis.Client) *Cache {
	log := logger.For(logger.ComponentCache)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if rdb == nil {
		log.Infof("No redis configured, caching in memory only")
	}

	return &Cache{
		mem: gocache.New(memoryExpiration, cleanupInterval),
		rdb: rdb,
		log: log,
	}
}

// NewRedisClient returns nil when uri is empty.
func NewRedisClient(uri string, password string) *redis.Client {
	if uri == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:        uri,
		Password:    password,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
}

// Key builds the key of the latest record of collection on a sink.
func Key(collection string, sinkName string) string {
	return keyPrefix + collection + ":" + sinkName
}

// Get decodes the cached value of key into out. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, key string, out interface{}) bool {
	if value, found := c.mem.Get(key); found {
		data, ok := value.([]byte)
		if ok && json.Unmarshal(data, out) == nil {
			return true
		}
	}

	if c.rdb == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, memoryExpiration)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debugf("Redis lookup of %s failed: %v", key, err)
		}

		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.log.Warnf("Dropping undecodable cache entry %s: %v", key, err)

		return false
	}

	c.putMemory(key, data, true)

	return true
}

// Set stores value under key unless the cached entry has a higher sequence.
// Write paths use it; an equal sequence replaces the entry so an overwritten
// latest record is picked up. Redis failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	c.store(ctx, key, value, false)
}

// Fill stores value read back from a store. It only lands when key is absent
// or holds an older sequence, so a slow read never hides a concurrent write.
func (c *Cache) Fill(ctx context.Context, key string, value interface{}) {
	c.store(ctx, key, value, true)
}

func (c *Cache) store(ctx context.Context, key string, value interface{}, strict bool) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warnf("Failed to encode cache entry %s: %v", key, err)

		return
	}

	if !c.putMemory(key, data, strict) {
		c.log.Debugf("Skipping stale cache entry %s", key)

		return
	}

	if c.rdb == nil {
		return
	}

	strictArg := "0"
	if strict {
		strictArg = "1"
	}

	stored, err := storeIfNewer.Run(ctx, c.rdb, []string{key},
		data, sequenceOf(data), strictArg, strconv.Itoa(int(redisExpiration.Seconds()))).Int()
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCache, "redis")
		c.log.Warnf("Failed to write %s to redis: %v", key, err)

		return
	}

	if stored == 0 {
		// Redis holds a newer entry; the next Get picks it up.
		c.mu.Lock()
		c.mem.Delete(key)
		c.mu.Unlock()
	}
}

// putMemory reports whether data replaced the in-process entry.
func (c *Cache) putMemory(key string, data []byte, strict bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, found := c.mem.Get(key); found {
		if cached, ok := current.([]byte); ok {
			cachedSeq, incomingSeq := sequenceOf(cached), sequenceOf(data)
			if cachedSeq > incomingSeq || (strict && cachedSeq == incomingSeq) {
				return false
			}
		}
	}

	c.mem.SetDefault(key, data)

	return true
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	c.mem.Delete(key)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warnf("Failed to delete %s from redis: %v", key, err)
	}
}

// Ping checks redis. A memory-only cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}

	if val, err := c.rdb.Ping(ctx).Result(); err != nil || val != "PONG" {
		return fmt.Errorf("redis is not available: %v", err)
	}

	return nil
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}

	return c.rdb.Close()
}
