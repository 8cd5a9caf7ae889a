package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryClient implements an in-memory Client for development and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	sets    map[string]setEntry
	maxSize int
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryOption customizes a MemoryClient.
type MemoryOption func(*MemoryClient)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryClient) { c.now = now }
}

// WithJanitor starts a goroutine that purges expired entries every interval
// until Close is called.
func WithJanitor(interval time.Duration) MemoryOption {
	return func(c *MemoryClient) {
		if interval > 0 {
			go c.cleanup(interval)
		}
	}
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int, opts ...MemoryOption) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &MemoryClient{
		data:    make(map[string]cacheEntry),
		sets:    make(map[string]setEntry),
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryClient) live(e cacheEntry) bool {
	return e.expiresAt.IsZero() || c.now().Before(e.expiresAt)
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || !c.live(entry) {
		return nil, ErrCacheMiss
	}
	return copyBytes(entry.value), nil
}

// MGet retrieves several values.
func (c *MemoryClient) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([][]byte, len(keys))
	for i, key := range keys {
		if entry, ok := c.data[key]; ok && c.live(entry) {
			out[i] = copyBytes(entry.value)
		}
	}
	return out, nil
}

// Set stores a value in cache with TTL.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value, ttl)
	return nil
}

func (c *MemoryClient) setLocked(key string, value []byte, ttl time.Duration) {
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.data[key] = cacheEntry{value: copyBytes(value), expiresAt: expiresAt}
}

// SetKeepTTL overwrites an existing live key, preserving its expiry.
func (c *MemoryClient) SetKeepTTL(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || !c.live(entry) {
		return ErrCacheMiss
	}
	entry.value = copyBytes(value)
	c.data[key] = entry
	return nil
}

// SetWithIndex writes the record and its index membership under one lock.
func (c *MemoryClient) SetWithIndex(ctx context.Context, key string, value []byte, indexKey string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value, ttl)

	set, ok := c.sets[indexKey]
	if !ok || !c.setLive(set) {
		set = setEntry{members: make(map[string]struct{})}
	}
	set.members[key] = struct{}{}
	if ttl > 0 {
		set.expiresAt = c.now().Add(ttl)
	}
	c.sets[indexKey] = set
	return nil
}

func (c *MemoryClient) setLive(s setEntry) bool {
	return s.expiresAt.IsZero() || c.now().Before(s.expiresAt)
}

// Members lists the keys of an index set.
func (c *MemoryClient) Members(ctx context.Context, indexKey string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set, ok := c.sets[indexKey]
	if !ok || !c.setLive(set) {
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for m := range set.members {
		members = append(members, m)
	}
	return members, nil
}

// RemoveMissing drops index members whose record no longer exists.
func (c *MemoryClient) RemoveMissing(ctx context.Context, indexKey string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[indexKey]
	if !ok {
		return 0, nil
	}
	removed := 0
	for _, m := range members {
		if entry, ok := c.data[m]; ok && c.live(entry) {
			continue
		}
		if _, ok := set.members[m]; ok {
			delete(set.members, m)
			removed++
		}
	}
	return removed, nil
}

// DeleteIndexed removes the members of an index and the index itself.
func (c *MemoryClient) DeleteIndexed(ctx context.Context, indexKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[indexKey]
	if !ok || !c.setLive(set) {
		delete(c.sets, indexKey)
		return 0, nil
	}
	for m := range set.members {
		delete(c.data, m)
	}
	delete(c.sets, indexKey)
	return len(set.members), nil
}

// Delete removes values from cache.
func (c *MemoryClient) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.data, key)
		delete(c.sets, key)
	}
	return nil
}

// DeleteByPrefix removes all keys and sets with the given prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			deleted++
		}
	}
	for key := range c.sets {
		if strings.HasPrefix(key, prefix) {
			delete(c.sets, key)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds.
func (c *MemoryClient) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor, if any.
func (c *MemoryClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Len returns the number of live records, excluding index sets.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entry := range c.data {
		if c.live(entry) {
			n++
		}
	}
	return n
}

// evictOldest removes the entry with the earliest expiration.
func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if entry.expiresAt.IsZero() {
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

func (c *MemoryClient) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *MemoryClient) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.data {
		if !c.live(entry) {
			delete(c.data, key)
		}
	}
	for key, set := range c.sets {
		if !c.setLive(set) {
			delete(c.sets, key)
		}
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
