// Copyright (c) 2026 John Earle
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

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCacheTTL bounds how long a new unit identity can go unnoticed.
	DefaultCacheTTL = 5 * time.Minute

	// cacheKeyPrefix namespaces resolution keys in Redis.
	cacheKeyPrefix = "mailflow:identity:"
)

// Cache remembers which identity id a resolution key mapped to. Only ids
// are cached; credentials are always read from the store.
type Cache interface {
	Lookup(ctx context.Context, key string) (id int64, ok bool, err error)
	Remember(ctx context.Context, key string, id int64) error
	Flush(ctx context.Context) error
}

// NopCache never remembers anything.
type NopCache struct{}

func (NopCache) Lookup(context.Context, string) (int64, bool, error) { return 0, false, nil }
func (NopCache) Remember(context.Context, string, int64) error       { return nil }
func (NopCache) Flush(context.Context) error                         { return nil }

// RedisCache stores resolutions as plain keys with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed resolution cache. A ttl <= 0 uses
// DefaultCacheTTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Lookup returns the cached identity id for key.
func (c *RedisCache) Lookup(ctx context.Context, key string) (int64, bool, error) {
	id, err := c.rdb.Get(ctx, cacheKeyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("identity cache GET: %w", err)
	}
	return id, true, nil
}

// Remember caches id under key for the configured TTL.
func (c *RedisCache) Remember(ctx context.Context, key string, id int64) error {
	if err := c.rdb.Set(ctx, cacheKeyPrefix+key, id, c.ttl).Err(); err != nil {
		return fmt.Errorf("identity cache SET: %w", err)
	}
	return nil
}

// Flush drops every cached resolution.
func (c *RedisCache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, cacheKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("identity cache SCAN: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("identity cache DEL: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
