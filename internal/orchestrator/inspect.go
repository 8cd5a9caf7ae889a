package orchestrator

import (
	"context"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/semcache"
)

// IntentReport is what the pattern tier would do for a query.
type IntentReport struct {
	Query          string                 `json:"query"`
	Intent         *domain.ResolvedIntent `json:"intent_result"`
	WouldExecute   bool                   `json:"would_execute"`
	ConfidenceGate float64                `json:"confidence_gate"`
	Databases      []string               `json:"available_databases"`
}

// DetectIntent runs only the pattern tier, without executing anything.
func (o *Orchestrator) DetectIntent(ctx context.Context, tenantID, query string) (*IntentReport, error) {
	view, err := o.catalog.Schema(ctx, tenantID)
	if err != nil || view.Empty() {
		return nil, domain.SchemaUnavailable("no database connections found", err)
	}

	report := &IntentReport{
		Query:          query,
		ConfidenceGate: o.config.ConfidenceGate,
		Databases:      view.Aliases(),
	}
	if o.matcher == nil {
		return report, nil
	}
	if intent, ok := o.matcher.Match(query, view); ok {
		report.Intent = intent
		report.WouldExecute = intent.Confidence > o.config.ConfidenceGate
	}
	return report, nil
}

// SimilarityReport compares two queries the way the cache tier would.
type SimilarityReport struct {
	Query1        string  `json:"query1"`
	Query2        string  `json:"query2"`
	Similarity    float64 `json:"similarity"`
	Threshold     float64 `json:"threshold"`
	WouldCacheHit bool    `json:"would_cache_hit"`
}

// CompareQueries embeds both queries and reports their cosine similarity.
func (o *Orchestrator) CompareQueries(ctx context.Context, query1, query2 string) (*SimilarityReport, error) {
	if o.embedder == nil {
		return nil, domain.EmbeddingUnavailable("no embedding provider configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.EmbedTimeout)
	defer cancel()

	a, err := o.embedder.EmbedSingle(ctx, query1)
	if err != nil {
		return nil, domain.EmbeddingUnavailable("failed to embed query1", err)
	}
	b, err := o.embedder.EmbedSingle(ctx, query2)
	if err != nil {
		return nil, domain.EmbeddingUnavailable("failed to embed query2", err)
	}

	threshold := semcache.DefaultConfig().Threshold
	if o.cache != nil {
		threshold = o.cache.Threshold()
	}
	sim := semcache.CosineSimilarity(a, b)
	return &SimilarityReport{
		Query1:        query1,
		Query2:        query2,
		Similarity:    sim,
		Threshold:     threshold,
		WouldCacheHit: sim > threshold,
	}, nil
}
