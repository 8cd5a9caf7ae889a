// Package app wires querydeck's components from configuration. The API server
// and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querydeck/querydeck/internal/cache"
	"github.com/querydeck/querydeck/internal/catalog"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/embedding"
	"github.com/querydeck/querydeck/internal/executor"
	"github.com/querydeck/querydeck/internal/intent"
	"github.com/querydeck/querydeck/internal/llm"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/orchestrator"
	"github.com/querydeck/querydeck/internal/retry"
	"github.com/querydeck/querydeck/internal/semcache"
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Orchestrator *orchestrator.Orchestrator
	Cache        *semcache.Cache
	Matcher      *intent.Matcher
	Embedder     embedding.Embedder

	store       cache.Client
	credentials catalog.CredentialStore
	catalog     *catalog.Catalog
	pool        *executor.Pool
}

// Option customizes wiring.
type Option func(*options)

type options struct {
	logger *observability.Logger
}

// WithLogger overrides the logger built from configuration.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds every component. A Redis store that cannot be reached leaves the
// semantic cache disabled rather than failing startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
		})
	}

	policy := retry.Policy{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}

	a := &App{Config: cfg, Logger: logger}

	a.store = newStore(cfg.Cache, logger)
	a.Cache = semcache.New(a.store, logger, semcache.Config{
		Threshold: cfg.Cache.SimilarityThreshold,
		TTL:       cfg.Cache.TTL,
	})

	embedder, err := newEmbedder(cfg.Embedding, policy, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	a.Embedder = embedder

	if a.Cache.Available() {
		flushed, err := a.Cache.EnsureModel(ctx, embedder.Model(), embedder.Dimension())
		if err != nil {
			logger.Warn().Err(err).Msg("Could not verify cached embedding model")
		} else if flushed {
			logger.Info().Str("model", embedder.Model()).Msg("Embedding model changed, semantic cache flushed")
		}
	}

	creds, err := newCredentialStore(ctx, cfg.Catalog)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create credential store: %w", err)
	}
	a.credentials = creds

	a.pool = executor.NewPool(executor.PoolConfig{
		MaxOpenConns:    cfg.Executor.MaxOpenConns,
		MaxIdleConns:    cfg.Executor.MaxIdleConns,
		ConnMaxLifetime: cfg.Executor.ConnMaxLifetime,
		Retry:           policy,
		Logger:          logger,
	})
	a.catalog = catalog.New(a.credentials, a.pool, logger, cfg.Catalog.IntrospectionTimeout)

	a.Matcher = intent.NewMatcher()

	resolver := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxHistory:  cfg.LLM.MaxHistory,
		Timeout:     cfg.LLM.Timeout,
		Retry:       policy,
		Logger:      logger,
	})

	exec := executor.NewSQLExecutor(a.pool, executor.Config{
		Timeout: cfg.Executor.StatementTimeout,
		MaxRows: cfg.Executor.MaxRows,
	})

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Catalog:  a.catalog,
		Embedder: embedder,
		Cache:    a.Cache,
		Matcher:  a.Matcher,
		Resolver: resolver,
		Executor: exec,
		Logger:   logger,
	}, orchestrator.Config{
		ConfidenceGate: cfg.Intent.ConfidenceGate,
		EmbedTimeout:   cfg.Embedding.Timeout,
		LLMTimeout:     cfg.LLM.Timeout,
	})

	logger.Info().
		Str("cache_driver", cfg.Cache.Driver).
		Bool("cache_available", a.Cache.Available()).
		Str("embedding_model", embedder.Model()).
		Str("llm_model", resolver.Model()).
		Str("catalog_driver", cfg.Catalog.Driver).
		Msg("Components initialized")

	return a, nil
}

func newStore(cfg config.CacheConfig, logger *observability.Logger) cache.Client {
	switch cfg.Driver {
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, semantic cache disabled")
			return nil
		}
		return rc
	default:
		return cache.NewMemoryClient(cfg.MaxEntries, cache.WithJanitor(time.Minute))
	}
}

func newEmbedder(cfg config.EmbeddingConfig, policy retry.Policy, logger *observability.Logger) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Provider {
	case "http":
		c, err := embedding.NewClient(embedding.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
			Retry:     policy,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		base = c
	default:
		base = embedding.NewMockClient(cfg.Dimension)
	}

	if cfg.MemoSize < 0 {
		return base, nil
	}
	memo, err := embedding.NewMemo(base, cfg.MemoSize)
	if err != nil {
		return nil, err
	}
	return memo, nil
}

func newCredentialStore(ctx context.Context, cfg config.CatalogConfig) (catalog.CredentialStore, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := catalog.NewPostgresCredentialStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := catalog.NewSQLiteCredentialStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := catalog.LoadFileCredentialStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ComponentStatus is the health of one dependency.
type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport summarizes component health.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
)

// Health checks the semantic cache store, the embedding provider and the
// credential store.
func (a *App) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := HealthReport{Status: statusHealthy, Components: make(map[string]ComponentStatus, 3)}
	check := func(name string, err error) {
		if err != nil {
			report.Components[name] = ComponentStatus{Status: statusUnhealthy, Error: err.Error()}
			report.Status = statusDegraded
			return
		}
		report.Components[name] = ComponentStatus{Status: statusHealthy}
	}

	var cacheErr error
	if a.store == nil {
		cacheErr = errors.New("cache store not configured")
	} else {
		cacheErr = a.store.Ping(ctx)
	}
	check("semantic_cache", cacheErr)

	_, embedErr := a.Embedder.EmbedSingle(ctx, "health check")
	check("embedding", embedErr)

	check("credential_store", a.credentials.Ping(ctx))

	return report
}

// Close releases every component that holds connections.
func (a *App) Close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing database pool")
		}
	}
	if a.credentials != nil {
		if err := a.credentials.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing credential store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing cache store")
		}
	}
}
