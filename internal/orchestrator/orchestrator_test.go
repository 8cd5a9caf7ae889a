package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/cache"
	"github.com/querydeck/querydeck/internal/catalog"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/intent"
	"github.com/querydeck/querydeck/internal/semcache"
)

type fakeCatalog struct {
	views map[string]domain.SchemaView
	err   error
}

func (f *fakeCatalog) Schema(ctx context.Context, tenantID string) (domain.SchemaView, error) {
	if f.err != nil {
		return domain.SchemaView{}, f.err
	}
	return f.views[tenantID], nil
}

func (f *fakeCatalog) Database(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error) {
	if _, ok := f.views[tenantID][alias]; !ok {
		return nil, catalog.ErrDatabaseNotFound
	}
	return &domain.DBConfig{TenantID: tenantID, Alias: alias, Driver: domain.DriverSQLite, Database: alias + ".db"}, nil
}

// fakeEmbedder maps known texts to fixed vectors; anything else fails.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeResolver struct {
	mu     sync.Mutex
	calls  int
	intent *domain.ResolvedIntent
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, query string, view domain.SchemaView, history []domain.Message) (*domain.ResolvedIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.intent, f.err
}

type fakeExecutor struct {
	mu        sync.Mutex
	executed  []string
	failing   map[string]bool
	tables    []string
	listCalls int
}

func (f *fakeExecutor) Execute(ctx context.Context, cfg *domain.DBConfig, statement string) (*domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, statement)
	if f.failing[statement] {
		return nil, errors.New(`relation does not exist`)
	}
	return &domain.QueryResult{Rows: []map[string]any{{"id": int64(1)}, {"id": int64(2)}}}, nil
}

func (f *fakeExecutor) ListTables(ctx context.Context, cfg *domain.DBConfig) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.tables, nil
}

type harness struct {
	orch     *Orchestrator
	cache    *semcache.Cache
	embedder *fakeEmbedder
	resolver *fakeResolver
	executor *fakeExecutor
	catalog  *fakeCatalog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cols := domain.TableSchema{{Name: "id", DataType: "integer"}}
	h := &harness{
		catalog: &fakeCatalog{views: map[string]domain.SchemaView{
			"t1": {"main": {"users": cols, "orders": cols}},
			"t2": {"main": {"users": cols}},
		}},
		embedder: &fakeEmbedder{vectors: map[string][]float32{
			"list users":              {1, 0, 0},
			"show me all the users":   {0.99, 0.141, 0},
			"list orders":             {0.5, 0.866, 0},
			"count records in orders": {0, 1, 0},
			"list tables":             {0, 0, 1},
			"revenue by month":        {0.577, 0.577, 0.577},
		}},
		resolver: &fakeResolver{intent: domain.Execute("main", "orders", "SELECT month, SUM(total) FROM orders GROUP BY month;", 0, domain.ProvenanceLLM)},
		executor: &fakeExecutor{failing: map[string]bool{}, tables: []string{"orders", "users"}},
	}
	h.cache = semcache.New(cache.NewMemoryClient(100), nil, semcache.Config{Threshold: 0.88, TTL: time.Hour})
	h.orch = New(Deps{
		Catalog:  h.catalog,
		Embedder: h.embedder,
		Cache:    h.cache,
		Matcher:  intent.NewMatcher(),
		Resolver: h.resolver,
		Executor: h.executor,
	}, cfg)
	return h
}

func TestProcess_PatternThenCacheHit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	first, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, first.Source)
	assert.Equal(t, "SELECT * FROM users LIMIT 100;", first.Statement)
	assert.Equal(t, "users", first.Table)
	assert.Equal(t, 0.95, first.Confidence)
	require.NotNil(t, first.RowsReturned)
	assert.Equal(t, 2, *first.RowsReturned)

	second, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSemanticCache, second.Source)
	assert.InDelta(t, 1.0, second.Similarity, 1e-6)
	assert.Equal(t, "list users", second.OriginalQuery)
	assert.Equal(t, first.Statement, second.Statement)
	assert.Zero(t, second.Confidence)

	assert.Zero(t, h.resolver.calls)
	assert.Len(t, h.executor.executed, 1, "cache hit does not execute")
}

func TestProcess_ParaphraseHitsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)

	res, err := h.orch.Process(ctx, "t1", "show me all the users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSemanticCache, res.Source)
	assert.Equal(t, "list users", res.OriginalQuery)
	assert.Zero(t, h.resolver.calls)
}

func TestProcess_BelowThresholdDoesNotReturnOtherEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)

	res, err := h.orch.Process(ctx, "t1", "list orders", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)
	assert.Equal(t, "orders", res.Table)
}

func TestProcess_CacheIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)

	res, err := h.orch.Process(ctx, "t2", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)
}

func TestProcess_CountPattern(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.orch.Process(context.Background(), "t1", "count records in orders", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) as count FROM orders;", res.Statement)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestProcess_ListTables(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.orch.Process(context.Background(), "t1", "list tables", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionListTables, res.Action)
	assert.Equal(t, "main", res.DB)
	assert.Equal(t, []string{"orders", "users"}, res.Data)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)
	assert.Equal(t, 1, h.executor.listCalls)

	stats := h.cache.Stats(context.Background(), "t1")
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, "list_tables", stats.Entries[0].ResponseType)
}

func TestProcess_LLMFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	res, err := h.orch.Process(ctx, "t1", "revenue by month", []domain.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLLMFallback, res.Source)
	assert.Equal(t, "orders", res.Table)
	assert.Equal(t, 1, h.resolver.calls)

	again, err := h.orch.Process(ctx, "t1", "revenue by month", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSemanticCache, again.Source)
	assert.Equal(t, 1, h.resolver.calls)
}

func TestProcess_EmbeddingFailureSkipsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.embedder.err = errors.New("model offline")

	res, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)

	assert.Zero(t, h.cache.Stats(ctx, "t1").TotalCachedQueries, "no cache write without an embedding")
}

func TestProcess_PatternExecutionFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.executor.failing["SELECT * FROM users LIMIT 100;"] = true
	h.resolver.intent = domain.Execute("main", "users", "SELECT id FROM users;", 0, domain.ProvenanceLLM)

	res, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLLMFallback, res.Source)
	assert.Equal(t, "SELECT id FROM users;", res.Statement)
	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, []string{"SELECT * FROM users LIMIT 100;", "SELECT id FROM users;"}, h.executor.executed)
}

func TestProcess_ConfidenceGateIsStrict(t *testing.T) {
	h := newHarness(t, Config{ConfidenceGate: 0.95})

	res, err := h.orch.Process(context.Background(), "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLLMFallback, res.Source)
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		query string
		kind  domain.ErrorKind
	}{
		{
			name:  "empty query",
			setup: func(h *harness) {},
			query: "   ",
			kind:  domain.KindValidation,
		},
		{
			name:  "no schemas",
			setup: func(h *harness) { h.catalog.views = nil },
			query: "list users",
			kind:  domain.KindSchemaUnavailable,
		},
		{
			name:  "catalog error",
			setup: func(h *harness) { h.catalog.err = errors.New("connection refused") },
			query: "list users",
			kind:  domain.KindSchemaUnavailable,
		},
		{
			name: "llm unavailable",
			setup: func(h *harness) {
				h.resolver.intent = nil
				h.resolver.err = domain.LLMUnavailable("timeout", nil)
			},
			query: "revenue by month",
			kind:  domain.KindLLMUnavailable,
		},
		{
			name: "llm untyped error",
			setup: func(h *harness) {
				h.resolver.intent = nil
				h.resolver.err = errors.New("dial tcp: refused")
			},
			query: "revenue by month",
			kind:  domain.KindLLMUnavailable,
		},
		{
			name: "llm invalid",
			setup: func(h *harness) {
				h.resolver.intent = nil
				h.resolver.err = domain.LLMInvalidResponse("bad json", nil)
			},
			query: "revenue by month",
			kind:  domain.KindLLMInvalidResponse,
		},
		{
			name: "llm statement fails",
			setup: func(h *harness) {
				h.executor.failing["SELECT month, SUM(total) FROM orders GROUP BY month;"] = true
			},
			query: "revenue by month",
			kind:  domain.KindStatementExecutionFailed,
		},
		{
			name: "llm names unknown database",
			setup: func(h *harness) {
				h.resolver.intent = domain.Execute("ghost", "users", "SELECT 1", 0, domain.ProvenanceLLM)
			},
			query: "revenue by month",
			kind:  domain.KindStatementExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			tt.setup(h)

			res, err := h.orch.Process(context.Background(), "t1", tt.query, nil)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Zero(t, h.cache.Stats(context.Background(), "t1").TotalCachedQueries)
		})
	}
}

// cancellingExecutor cancels the request while the statement runs.
type cancellingExecutor struct {
	*fakeExecutor
	cancel context.CancelFunc
}

func (c *cancellingExecutor) Execute(ctx context.Context, cfg *domain.DBConfig, statement string) (*domain.QueryResult, error) {
	c.cancel()
	return c.fakeExecutor.Execute(ctx, cfg, statement)
}

func TestProcess_NoCacheWriteAfterCancellation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.orch.executor = &cancellingExecutor{fakeExecutor: h.executor, cancel: cancel}

	res, err := h.orch.Process(ctx, "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)
	assert.Zero(t, h.cache.Stats(context.Background(), "t1").TotalCachedQueries)
}

func TestProcess_WithoutEmbedder(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.embedder = nil

	res, err := h.orch.Process(context.Background(), "t1", "list users", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternMatch, res.Source)
}

func TestDetectIntent(t *testing.T) {
	h := newHarness(t, Config{})

	report, err := h.orch.DetectIntent(context.Background(), "t1", "find users where email = 'a@b.c'")
	require.NoError(t, err)
	require.NotNil(t, report.Intent)
	assert.Equal(t, "find_where", report.Intent.Pattern)
	assert.False(t, report.WouldExecute, "0.8 does not exceed the gate")
	assert.Equal(t, []string{"main"}, report.Databases)
	assert.Empty(t, h.executor.executed)

	report, err = h.orch.DetectIntent(context.Background(), "t1", "revenue by month")
	require.NoError(t, err)
	assert.Nil(t, report.Intent)

	_, err = h.orch.DetectIntent(context.Background(), "nobody", "list users")
	assert.Equal(t, domain.KindSchemaUnavailable, domain.KindOf(err))
}

func TestCompareQueries(t *testing.T) {
	h := newHarness(t, Config{})

	report, err := h.orch.CompareQueries(context.Background(), "list users", "show me all the users")
	require.NoError(t, err)
	assert.InDelta(t, 0.99, report.Similarity, 1e-3)
	assert.True(t, report.WouldCacheHit)
	assert.Equal(t, 0.88, report.Threshold)

	report, err = h.orch.CompareQueries(context.Background(), "list users", "list orders")
	require.NoError(t, err)
	assert.False(t, report.WouldCacheHit)

	_, err = h.orch.CompareQueries(context.Background(), "list users", "unknown")
	assert.Equal(t, domain.KindEmbeddingUnavailable, domain.KindOf(err))
}
