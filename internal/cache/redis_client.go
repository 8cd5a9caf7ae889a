// Package cache provides the key/value and index-set store behind the
// semantic cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

const maxWatchAttempts = 3

// Client defines the cache store interface. Index sets hold logical keys of
// records; the record and its index membership share one TTL.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// MGet returns one slot per key, nil for keys that are absent or expired.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetKeepTTL overwrites an existing key without touching its expiry.
	// It returns ErrCacheMiss when the key no longer exists.
	SetKeepTTL(ctx context.Context, key string, value []byte) error
	// SetWithIndex writes key and adds it to indexKey in one atomic unit,
	// applying ttl to both.
	SetWithIndex(ctx context.Context, key string, value []byte, indexKey string, ttl time.Duration) error
	Members(ctx context.Context, indexKey string) ([]string, error)
	// RemoveMissing drops the members whose record key does not exist at
	// the time of removal, returning how many were dropped. A member whose
	// key was re-created after it was seen missing stays in the index.
	RemoveMissing(ctx context.Context, indexKey string, members ...string) (int, error)
	// DeleteIndexed removes every member key of indexKey and the index itself,
	// returning the number of members.
	DeleteIndexed(ctx context.Context, indexKey string) (int, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisClient implements Client using Redis.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	Prefix      string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	MaxRetries  int
	PingTimeout time.Duration
}

// NewRedisClient creates a Redis cache client and verifies connectivity.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		MaxRetries:  cfg.MaxRetries,
	})

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{client: client, prefix: cfg.Prefix}, nil
}

func (c *RedisClient) key(k string) string {
	return c.prefix + k
}

func (c *RedisClient) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = c.prefix + k
	}
	return out
}

// Get retrieves a value from cache.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// MGet retrieves several values in one round trip.
func (c *RedisClient) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.client.MGet(ctx, c.keys(keys)...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Set stores a value in cache with TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetKeepTTL overwrites an existing key, preserving its TTL.
func (c *RedisClient) SetKeepTTL(ctx context.Context, key string, value []byte) error {
	err := c.client.SetArgs(ctx, c.key(key), value, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis set keepttl: %w", err)
	}
	return nil
}

// SetWithIndex writes the record and its index membership in one MULTI/EXEC.
func (c *RedisClient) SetWithIndex(ctx context.Context, key string, value []byte, indexKey string, ttl time.Duration) error {
	idx := c.key(indexKey)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(key), value, ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set with index: %w", err)
	}
	return nil
}

// Members lists the logical keys of an index set.
func (c *RedisClient) Members(ctx context.Context, indexKey string) ([]string, error) {
	members, err := c.client.SMembers(ctx, c.key(indexKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

// removeMissingScript checks and removes in one server-side step.
// KEYS[1] is the index, ARGV[1] the key prefix, ARGV[2:] the members.
var removeMissingScript = redis.NewScript(`
local removed = 0
for i = 2, #ARGV do
	if redis.call("EXISTS", ARGV[1] .. ARGV[i]) == 0 then
		removed = removed + redis.call("SREM", KEYS[1], ARGV[i])
	end
end
return removed
`)

// RemoveMissing drops index members whose record no longer exists.
func (c *RedisClient) RemoveMissing(ctx context.Context, indexKey string, members ...string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(members)+1)
	args = append(args, c.prefix)
	for _, m := range members {
		args = append(args, m)
	}
	n, err := removeMissingScript.Run(ctx, c.client, []string{c.key(indexKey)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("redis prune index: %w", err)
	}
	return n, nil
}

// DeleteIndexed removes all member records and the index under WATCH, so a
// concurrent write to the index restarts the deletion.
func (c *RedisClient) DeleteIndexed(ctx context.Context, indexKey string) (int, error) {
	idx := c.key(indexKey)
	var count int

	txf := func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, idx).Result()
		if err != nil {
			return err
		}
		count = len(members)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(members) > 0 {
				pipe.Del(ctx, c.keys(members)...)
			}
			pipe.Del(ctx, idx)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err = c.client.Watch(ctx, txf, idx)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("redis delete indexed: %w", err)
	}
	return count, nil
}

// Delete removes values from cache.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, c.keys(keys)...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := c.prefix + prefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("redis delete by prefix: %w", err)
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}

	return deleted, nil
}

// Ping checks connectivity.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// CacheKey joins key components with colons.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

var (
	_ Client = (*RedisClient)(nil)
	_ Client = (*MemoryClient)(nil)
)
