// Package orchestrator sequences the resolution tiers for a query: semantic
// cache, intent patterns, then the language model.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/querydeck/querydeck/internal/catalog"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/embedding"
	"github.com/querydeck/querydeck/internal/executor"
	"github.com/querydeck/querydeck/internal/llm"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/semcache"
)

// SemanticCache is the cache tier.
type SemanticCache interface {
	FindSimilar(ctx context.Context, tenantID string, embedding []float32) (*semcache.Match, bool)
	Store(ctx context.Context, tenantID, query string, embedding []float32, response *domain.Result)
	Threshold() float64
}

// IntentMatcher is the pattern tier.
type IntentMatcher interface {
	Match(query string, view domain.SchemaView) (*domain.ResolvedIntent, bool)
}

// Config holds orchestrator configuration.
type Config struct {
	// ConfidenceGate is the pattern confidence that must be exceeded for the
	// pattern tier to act.
	ConfidenceGate float64
	EmbedTimeout   time.Duration
	LLMTimeout     time.Duration
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceGate: 0.8,
		EmbedTimeout:   5 * time.Second,
		LLMTimeout:     60 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Catalog  catalog.Source
	Embedder embedding.Embedder
	Cache    SemanticCache
	Matcher  IntentMatcher
	Resolver llm.Resolver
	Executor executor.Executor
	Logger   *observability.Logger
}

// Orchestrator answers queries. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	catalog  catalog.Source
	embedder embedding.Embedder
	cache    SemanticCache
	matcher  IntentMatcher
	resolver llm.Resolver
	executor executor.Executor
	logger   *observability.Logger
	config   Config
}

// New creates an orchestrator. Embedder and Cache may be nil, which disables
// the cache tier.
func New(deps Deps, cfg Config) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.ConfidenceGate <= 0 {
		cfg.ConfidenceGate = defaults.ConfidenceGate
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaults.EmbedTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaults.LLMTimeout
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}

	return &Orchestrator{
		catalog:  deps.Catalog,
		embedder: deps.Embedder,
		cache:    deps.Cache,
		matcher:  deps.Matcher,
		resolver: deps.Resolver,
		executor: deps.Executor,
		logger:   deps.Logger,
		config:   cfg,
	}
}

type outcome int

const (
	miss outcome = iota
	hit
	failed
)

type tierResult struct {
	outcome outcome
	result  *domain.Result
	err     error
}

// Process resolves query for tenantID and returns the executed result.
func (o *Orchestrator) Process(ctx context.Context, tenantID, query string, history []domain.Message) (*domain.Result, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, domain.ValidationError("tenant id is required", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ValidationError("query is required", nil)
	}

	log := o.logger.WithContext(ctx).WithTenant(tenantID).WithOperation("process")
	start := time.Now()

	view, err := o.catalog.Schema(ctx, tenantID)
	if err != nil || view.Empty() {
		log.Error().Err(err).Msg("No database schemas available")
		return nil, domain.SchemaUnavailable("no database connections found", err)
	}

	emb := o.embed(ctx, tenantID, query)

	if emb != nil {
		if r := o.cacheTier(ctx, tenantID, emb); r.outcome == hit {
			log.Info().Str("source", string(r.result.Source)).Dur("latency", time.Since(start)).Msg("Query resolved")
			return r.result, nil
		}
	}

	switch r := o.patternTier(ctx, tenantID, query, view); r.outcome {
	case hit:
		o.store(ctx, tenantID, query, emb, r.result)
		log.Info().Str("source", string(r.result.Source)).Dur("latency", time.Since(start)).Msg("Query resolved")
		return r.result, nil
	case failed:
		log.Warn().Err(r.err).Msg("Pattern execution failed, escalating to LLM")
	}

	r := o.llmTier(ctx, tenantID, query, view, history)
	if r.outcome != hit {
		log.Error().Err(r.err).Dur("latency", time.Since(start)).Msg("Query failed")
		return nil, r.err
	}
	o.store(ctx, tenantID, query, emb, r.result)
	log.Info().Str("source", string(r.result.Source)).Dur("latency", time.Since(start)).Msg("Query resolved")
	return r.result, nil
}

// embed returns nil when the embedder is missing or fails; the cache tier is
// then skipped and nothing is written back.
func (o *Orchestrator) embed(ctx context.Context, tenantID, query string) []float32 {
	if o.embedder == nil || o.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.EmbedTimeout)
	defer cancel()

	emb, err := o.embedder.EmbedSingle(ctx, query)
	if err != nil || len(emb) == 0 {
		err = domain.EmbeddingUnavailable("failed to embed query", err)
		o.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Skipping semantic cache")
		return nil
	}
	return emb
}

func (o *Orchestrator) cacheTier(ctx context.Context, tenantID string, emb []float32) tierResult {
	match, ok := o.cache.FindSimilar(ctx, tenantID, emb)
	if !ok || match.Response == nil {
		return tierResult{outcome: miss}
	}

	res := *match.Response
	res.Source = domain.SourceSemanticCache
	res.Similarity = match.Similarity
	res.OriginalQuery = match.OriginalQuery
	res.Confidence = 0
	return tierResult{outcome: hit, result: &res}
}

func (o *Orchestrator) patternTier(ctx context.Context, tenantID, query string, view domain.SchemaView) tierResult {
	if o.matcher == nil {
		return tierResult{outcome: miss}
	}

	intent, ok := o.matcher.Match(query, view)
	if !ok || intent.Confidence <= o.config.ConfidenceGate {
		o.logger.Debug().Str("tenant_id", tenantID).Bool("matched", ok).Msg("Pattern tier miss")
		return tierResult{outcome: miss}
	}

	o.logger.Debug().
		Str("tenant_id", tenantID).
		Str("pattern", intent.Pattern).
		Float64("confidence", intent.Confidence).
		Msg("Pattern matched")

	res, err := o.execute(ctx, tenantID, intent)
	if err != nil {
		return tierResult{outcome: failed, err: domain.PatternExecutionFailed("pattern statement failed", err)}
	}
	res.Source = domain.SourcePatternMatch
	res.Confidence = intent.Confidence
	return tierResult{outcome: hit, result: res}
}

func (o *Orchestrator) llmTier(ctx context.Context, tenantID, query string, view domain.SchemaView, history []domain.Message) tierResult {
	if o.resolver == nil {
		return tierResult{outcome: failed, err: domain.LLMUnavailable("no language model configured", nil)}
	}

	llmCtx, cancel := context.WithTimeout(ctx, o.config.LLMTimeout)
	intent, err := o.resolver.Resolve(llmCtx, query, view, history)
	cancel()
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			err = domain.LLMUnavailable("language model request failed", err)
		}
		return tierResult{outcome: failed, err: err}
	}
	if intent == nil {
		return tierResult{outcome: failed, err: domain.LLMInvalidResponse("language model returned no intent", nil)}
	}

	o.logger.Debug().
		Str("tenant_id", tenantID).
		Str("db_name", intent.Database).
		Str("action", string(intent.Action)).
		Msg("LLM resolved intent")

	res, err := o.execute(ctx, tenantID, intent)
	if err != nil {
		return tierResult{outcome: failed, err: domain.StatementExecutionFailed("error processing LLM response", err)}
	}
	res.Source = domain.SourceLLMFallback
	return tierResult{outcome: hit, result: res}
}

func (o *Orchestrator) execute(ctx context.Context, tenantID string, intent *domain.ResolvedIntent) (*domain.Result, error) {
	cfg, err := o.catalog.Database(ctx, tenantID, intent.Database)
	if err != nil {
		return nil, err
	}

	switch intent.Action {
	case domain.ActionListTables:
		tables, err := o.executor.ListTables(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &domain.Result{DB: intent.Database, Action: domain.ActionListTables, Data: tables}, nil

	case domain.ActionExecute:
		qr, err := o.executor.Execute(ctx, cfg, intent.Statement)
		if err != nil {
			return nil, err
		}
		n := len(qr.Rows)
		return &domain.Result{
			DB:           intent.Database,
			Table:        intent.Table,
			Statement:    intent.Statement,
			RowsReturned: &n,
			Data:         qr.Rows,
		}, nil

	default:
		return nil, errors.New("unknown intent action")
	}
}

// store writes the verified result back unless the embedding is missing or
// the request was cancelled.
func (o *Orchestrator) store(ctx context.Context, tenantID, query string, emb []float32, res *domain.Result) {
	if emb == nil || o.cache == nil || ctx.Err() != nil {
		return
	}
	o.cache.Store(ctx, tenantID, query, emb, res)
}
