package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/executor"
	"github.com/querydeck/querydeck/internal/observability"
)

// Source provides schema views and connection configs to the orchestrator.
type Source interface {
	Schema(ctx context.Context, tenantID string) (domain.SchemaView, error)
	Database(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error)
}

// Catalog builds schema views by introspecting each tenant database.
type Catalog struct {
	store   CredentialStore
	pool    *executor.Pool
	logger  *observability.Logger
	timeout time.Duration
}

// New creates a catalog. timeout bounds introspection of each database.
func New(store CredentialStore, pool *executor.Pool, logger *observability.Logger, timeout time.Duration) *Catalog {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Catalog{store: store, pool: pool, logger: logger, timeout: timeout}
}

// Schema returns a fresh view of every database the tenant can reach.
// Databases that fail to introspect are logged and omitted.
func (c *Catalog) Schema(ctx context.Context, tenantID string) (domain.SchemaView, error) {
	configs, err := c.store.List(ctx, tenantID)
	if err != nil {
		return domain.SchemaView{}, fmt.Errorf("list tenant databases: %w", err)
	}

	view := make(domain.SchemaView, len(configs))
	for i := range configs {
		cfg := &configs[i]
		tables, err := c.introspect(ctx, cfg)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("tenant_id", tenantID).
				Str("db_name", cfg.Alias).
				Msg("Skipping database that failed introspection")
			continue
		}
		view[cfg.Alias] = tables
	}
	return view, nil
}

func (c *Catalog) introspect(ctx context.Context, cfg *domain.DBConfig) (domain.DatabaseSchema, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	intro, err := executor.IntrospectorFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := c.pool.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return intro.Columns(ctx, db)
}

// Database returns the connection config for one alias.
func (c *Catalog) Database(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error) {
	cfg, err := c.store.Get(ctx, tenantID, alias)
	if err != nil {
		return nil, fmt.Errorf("database %q: %w", alias, err)
	}
	return cfg, nil
}

// Ping checks the credential store.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

var _ Source = (*Catalog)(nil)
