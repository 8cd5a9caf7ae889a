// Package semcache implements the per-tenant semantic cache: answered
// queries stored with their embeddings and retrieved by cosine similarity.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/querydeck/querydeck/internal/cache"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/observability"
)

const (
	recordPrefix = "semantic_cache"
	indexPrefix  = "semantic_index"
	modelKey     = "semantic_meta:model"
)

// Config configures the semantic cache.
type Config struct {
	// Threshold is the similarity a record must strictly exceed to match.
	Threshold float64
	// TTL applies to every record and its tenant index.
	TTL time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.88,
		TTL:       time.Hour,
	}
}

// Record is the JSON document persisted per cached query.
type Record struct {
	Query     string         `json:"query"`
	Embedding []float32      `json:"embedding"`
	Response  *domain.Result `json:"response"`
	Timestamp float64        `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	HitCount  int            `json:"hit_count"`
}

// Match is a cached response similar enough to the incoming query.
type Match struct {
	Response      *domain.Result
	Similarity    float64
	OriginalQuery string
}

// Entry summarizes one record for cache statistics.
type Entry struct {
	Query        string  `json:"query"`
	HitCount     int     `json:"hit_count"`
	Timestamp    float64 `json:"timestamp"`
	ResponseType string  `json:"response_type"`
}

// Stats reports the cached queries of a tenant.
type Stats struct {
	Available          bool    `json:"available"`
	TotalCachedQueries int     `json:"total_cached_queries"`
	Entries            []Entry `json:"cache_entries"`
}

// Cache is the semantic cache. A nil store disables it: writes become
// no-ops and lookups miss.
type Cache struct {
	store  cache.Client
	logger *observability.Logger
	config Config
	now    func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a semantic cache over store.
func New(store cache.Client, logger *observability.Logger, config Config, opts ...Option) *Cache {
	defaults := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Cache{
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the configured similarity threshold.
func (c *Cache) Threshold() float64 {
	return c.config.Threshold
}

// Available reports whether a store is configured.
func (c *Cache) Available() bool {
	return c.store != nil
}

// RecordKey returns the store key for a tenant's query.
func RecordKey(tenantID, query string) string {
	sum := sha256.Sum256([]byte(query))
	return cache.CacheKey(recordPrefix, tenantID, hex.EncodeToString(sum[:])[:16])
}

// IndexKey returns the index set key of a tenant.
func IndexKey(tenantID string) string {
	return cache.CacheKey(indexPrefix, tenantID)
}

// Store records a verified response for query. Failures are logged and
// otherwise ignored.
func (c *Cache) Store(ctx context.Context, tenantID, query string, embedding []float32, response *domain.Result) {
	if c.store == nil || response == nil || len(embedding) == 0 {
		return
	}

	rec := Record{
		Query:     query,
		Embedding: embedding,
		Response:  response.Stripped(),
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
		TenantID:  tenantID,
		HitCount:  1,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to marshal cache record")
		return
	}

	key := RecordKey(tenantID, query)
	if err := c.store.SetWithIndex(ctx, key, data, IndexKey(tenantID), c.config.TTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to store semantic cache entry")
		return
	}

	c.logger.Debug().Str("key", key).Dur("ttl", c.config.TTL).Msg("Stored semantic cache entry")
}

// FindSimilar returns the most similar record of the tenant if its
// similarity strictly exceeds the threshold. Ties keep the first record
// encountered.
func (c *Cache) FindSimilar(ctx context.Context, tenantID string, embedding []float32) (*Match, bool) {
	if c.store == nil || len(embedding) == 0 {
		return nil, false
	}

	keys, records, err := c.load(ctx, tenantID)
	if err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Semantic cache lookup failed")
		return nil, false
	}

	bestIdx := -1
	bestSim := 0.0
	for i, rec := range records {
		if rec == nil || len(rec.Embedding) != len(embedding) {
			continue
		}
		sim := CosineSimilarity(embedding, rec.Embedding)
		if bestIdx < 0 || sim > bestSim {
			bestIdx, bestSim = i, sim
		}
	}

	if bestIdx < 0 || bestSim <= c.config.Threshold {
		c.logger.Debug().
			Str("tenant_id", tenantID).
			Int("candidates", len(records)).
			Float64("best_similarity", bestSim).
			Msg("Semantic cache miss")
		return nil, false
	}

	best := records[bestIdx]
	c.bumpHitCount(ctx, keys[bestIdx], best)

	c.logger.Debug().
		Str("tenant_id", tenantID).
		Float64("similarity", bestSim).
		Str("original_query", best.Query).
		Msg("Semantic cache hit")

	return &Match{
		Response:      best.Response,
		Similarity:    bestSim,
		OriginalQuery: best.Query,
	}, true
}

// bumpHitCount is best-effort; concurrent hits may lose increments.
func (c *Cache) bumpHitCount(ctx context.Context, key string, rec *Record) {
	updated := *rec
	updated.HitCount++

	data, err := json.Marshal(updated)
	if err != nil {
		return
	}
	if err := c.store.SetKeepTTL(ctx, key, data); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to update hit count")
	}
}

// Stats lists the tenant's records ordered by hit count, highest first.
func (c *Cache) Stats(ctx context.Context, tenantID string) Stats {
	if c.store == nil {
		return Stats{Entries: []Entry{}}
	}

	_, records, err := c.load(ctx, tenantID)
	if err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to read cache stats")
		return Stats{Entries: []Entry{}}
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{
			Query:        rec.Query,
			HitCount:     rec.HitCount,
			Timestamp:    rec.Timestamp,
			ResponseType: string(domain.ActionExecute),
		}
		if rec.Response != nil {
			entry.ResponseType = rec.Response.Kind()
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].HitCount != entries[j].HitCount {
			return entries[i].HitCount > entries[j].HitCount
		}
		return entries[i].Query < entries[j].Query
	})

	return Stats{
		Available:          true,
		TotalCachedQueries: len(entries),
		Entries:            entries,
	}
}

// Clear deletes every record of the tenant and its index, returning the
// number of records removed.
func (c *Cache) Clear(ctx context.Context, tenantID string) int {
	if c.store == nil {
		return 0
	}

	n, err := c.store.DeleteIndexed(ctx, IndexKey(tenantID))
	if err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to clear semantic cache")
		return 0
	}

	c.logger.Info().Str("tenant_id", tenantID).Int("cleared_count", n).Msg("Cleared semantic cache")
	return n
}

// EnsureModel flushes every tenant's records when the embedding model or
// dimension differs from the one the cache was populated with.
func (c *Cache) EnsureModel(ctx context.Context, model string, dimension int) (bool, error) {
	if c.store == nil {
		return false, nil
	}

	fingerprint := fmt.Sprintf("%s:%d", model, dimension)
	current, err := c.store.Get(ctx, modelKey)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return false, fmt.Errorf("read model fingerprint: %w", err)
	}
	if err == nil && string(current) == fingerprint {
		return false, nil
	}

	flushed := 0
	for _, prefix := range []string{recordPrefix + ":", indexPrefix + ":"} {
		n, err := c.store.DeleteByPrefix(ctx, prefix)
		if err != nil {
			return false, fmt.Errorf("flush %s: %w", prefix, err)
		}
		flushed += n
	}

	if err := c.store.Set(ctx, modelKey, []byte(fingerprint), 0); err != nil {
		return true, fmt.Errorf("write model fingerprint: %w", err)
	}

	c.logger.Info().
		Str("model", model).
		Int("dimension", dimension).
		Int("flushed_keys", flushed).
		Msg("Embedding model changed, semantic cache flushed")
	return true, nil
}

// load reads the live records of a tenant, pruning index members whose
// record has expired. Records from other tenants or that fail to decode are
// dropped.
func (c *Cache) load(ctx context.Context, tenantID string) ([]string, []*Record, error) {
	indexKey := IndexKey(tenantID)
	members, err := c.store.Members(ctx, indexKey)
	if err != nil {
		return nil, nil, fmt.Errorf("list index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil, nil
	}
	sort.Strings(members)

	values, err := c.store.MGet(ctx, members...)
	if err != nil {
		return nil, nil, fmt.Errorf("load records: %w", err)
	}

	keys := make([]string, 0, len(members))
	records := make([]*Record, 0, len(members))
	var stale []string
	for i, raw := range values {
		if raw == nil {
			stale = append(stale, members[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.logger.Debug().Err(err).Str("key", members[i]).Msg("Skipping undecodable cache record")
			continue
		}
		if rec.TenantID != tenantID {
			continue
		}
		keys = append(keys, members[i])
		records = append(records, &rec)
	}

	if len(stale) > 0 {
		if _, err := c.store.RemoveMissing(ctx, indexKey, stale...); err != nil {
			c.logger.Debug().Err(err).Int("stale", len(stale)).Msg("Failed to prune cache index")
		}
	}

	return keys, records, nil
}
