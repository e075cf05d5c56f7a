// Package cache provides a Redis backed read-through cache for roadmap details.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"roadmap/api/internal/roadmap"
)

const defaultTTL = 5 * time.Minute

// setIfGeneration writes KEYS[1] only while the generation counter in
// KEYS[2] still equals ARGV[1]. A missing counter reads as 0.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache stores serialized roadmap.Details keyed by roadmap id. Each
// roadmap also has a generation counter that Invalidate bumps, so a read
// that started before a write cannot repopulate the entry afterwards.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	genPrefix string
	ttl       time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client:    client,
		prefix:    "roadmap:details:",
		genPrefix: "roadmap:gen:",
		ttl:       ttl,
	}
}

func (c *RedisCache) key(roadmapID string) string {
	return c.prefix + roadmapID
}

func (c *RedisCache) genKey(roadmapID string) string {
	return c.genPrefix + roadmapID
}

// Generation returns the current invalidation counter for a roadmap. Read
// it before loading from the database and pass it to SetDetails.
func (c *RedisCache) Generation(ctx context.Context, roadmapID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(roadmapID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get roadmap generation: %w", err)
	}
	return gen, nil
}

// GetDetails returns the cached details. ok is false on a miss.
func (c *RedisCache) GetDetails(ctx context.Context, roadmapID string) (details roadmap.Details, ok bool, err error) {
	payload, err := c.client.Get(ctx, c.key(roadmapID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return roadmap.Details{}, false, nil
	}
	if err != nil {
		return roadmap.Details{}, false, fmt.Errorf("get roadmap details: %w", err)
	}
	if err := json.Unmarshal(payload, &details); err != nil {
		// A payload we cannot read is dropped so the next read repopulates it.
		_ = c.client.Del(ctx, c.key(roadmapID)).Err()
		return roadmap.Details{}, false, nil
	}
	return details, true, nil
}

// SetDetails caches details loaded at generation gen. stored is false when
// an Invalidate ran since gen was read; the entry is left alone then.
func (c *RedisCache) SetDetails(ctx context.Context, details roadmap.Details, gen int64) (stored bool, err error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return false, fmt.Errorf("marshal roadmap details: %w", err)
	}
	keys := []string{c.key(details.ID), c.genKey(details.ID)}
	n, err := setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), payload, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set roadmap details: %w", err)
	}
	return n == 1, nil
}

// Invalidate drops the cached entry and bumps the generation; a missing key
// is not an error.
func (c *RedisCache) Invalidate(ctx context.Context, roadmapID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(roadmapID))
		pipe.Del(ctx, c.key(roadmapID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate roadmap details: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
