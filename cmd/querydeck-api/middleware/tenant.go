// Package middleware provides HTTP middleware for the querydeck API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/observability"
)

// Context keys for request-scoped values.
type contextKey string

// TenantIDKey is the context key for tenant ID.
const TenantIDKey contextKey = "tenant_id"

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// TenantConfig holds tenant resolution settings.
type TenantConfig struct {
	Header        string
	DefaultTenant string
}

// Tenant resolves the tenant from the configured header, then the tenant_id
// query parameter, then the default. Requests with no tenant are rejected.
func Tenant(cfg TenantConfig) func(http.Handler) http.Handler {
	header := cfg.Header
	if header == "" {
		header = "X-Tenant-ID"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(header))
			if tenantID == "" {
				tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
			}
			if tenantID == "" {
				tenantID = cfg.DefaultTenant
			}
			if tenantID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"tenant id is required","kind":"validation"}`))
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromContext extracts the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	if v := ctx.Value(TenantIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Trace attaches a trace id to the request context, reusing an incoming
// X-Trace-ID when it is a valid UUID.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(observability.ContextWithTraceID(r.Context(), traceID)))
	})
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.WithContext(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Dur("latency", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
