// Package handlers provides HTTP handlers for the querydeck API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/querydeck/querydeck/cmd/querydeck-api/middleware"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/intent"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/orchestrator"
)

// Resolver is the orchestrator surface the query handlers use.
type Resolver interface {
	Process(ctx context.Context, tenantID, query string, history []domain.Message) (*domain.Result, error)
	DetectIntent(ctx context.Context, tenantID, query string) (*orchestrator.IntentReport, error)
	CompareQueries(ctx context.Context, query1, query2 string) (*orchestrator.SimilarityReport, error)
}

// PatternLister describes the pattern library.
type PatternLister interface {
	Patterns() []intent.Info
}

// QueryHandler handles question answering and its debug endpoints.
type QueryHandler struct {
	logger   *observability.Logger
	resolver Resolver
	patterns PatternLister
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(logger *observability.Logger, resolver Resolver, patterns PatternLister) *QueryHandler {
	return &QueryHandler{logger: logger, resolver: resolver, patterns: patterns}
}

// AskRequestDTO is the body of POST /ask.
type AskRequestDTO struct {
	Query   string           `json:"query"`
	History []domain.Message `json:"history,omitempty"`
}

// Ask handles POST /ask.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AskRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, domain.ValidationError("query is required", nil))
		return
	}

	tenantID := middleware.TenantFromContext(ctx)
	res, err := h.resolver.Process(ctx, tenantID, req.Query, req.History)
	if err != nil {
		h.logger.WithContext(ctx).Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Str("kind", string(domain.KindOf(err))).
			Msg("Query failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// IntentRequestDTO is the body of POST /debug/intent.
type IntentRequestDTO struct {
	Query string `json:"query"`
}

// IntentResponseDTO reports the pattern tier decision and the library.
type IntentResponseDTO struct {
	*orchestrator.IntentReport
	Patterns []intent.Info `json:"available_patterns"`
}

// DebugIntent handles POST /debug/intent. Nothing is executed.
func (h *QueryHandler) DebugIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IntentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, domain.ValidationError("query is required", nil))
		return
	}

	report, err := h.resolver.DetectIntent(ctx, middleware.TenantFromContext(ctx), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := IntentResponseDTO{IntentReport: report}
	if h.patterns != nil {
		resp.Patterns = h.patterns.Patterns()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SimilarityRequestDTO is the body of POST /debug/similarity.
type SimilarityRequestDTO struct {
	Query1 string `json:"query1"`
	Query2 string `json:"query2"`
}

// DebugSimilarity handles POST /debug/similarity.
func (h *QueryHandler) DebugSimilarity(w http.ResponseWriter, r *http.Request) {
	var req SimilarityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Query1) == "" || strings.TrimSpace(req.Query2) == "" {
		writeError(w, domain.ValidationError("query1 and query2 are required", nil))
		return
	}

	report, err := h.resolver.CompareQueries(r.Context(), req.Query1, req.Query2)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ErrorResponseDTO is the body of every failed request.
type ErrorResponseDTO struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindSchemaUnavailable:
		return http.StatusNotFound
	case domain.KindLLMInvalidResponse:
		return http.StatusUnprocessableEntity
	case domain.KindLLMUnavailable, domain.KindEmbeddingUnavailable, domain.KindCacheUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindStatementExecutionFailed:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	resp := ErrorResponseDTO{Error: "internal error", Kind: string(kind)}

	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Error = de.Message
		if de.Err != nil {
			resp.Detail = de.Err.Error()
		}
	}
	writeJSON(w, StatusFor(kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
