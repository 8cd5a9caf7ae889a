package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/querydeck/querydeck/internal/domain"
)

// Executor runs statements and lists tables on a tenant database.
type Executor interface {
	Execute(ctx context.Context, cfg *domain.DBConfig, statement string) (*domain.QueryResult, error)
	ListTables(ctx context.Context, cfg *domain.DBConfig) ([]string, error)
}

// Config bounds statement execution.
type Config struct {
	Timeout time.Duration
	MaxRows int
}

// DefaultConfig returns default executor configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		MaxRows: 1000,
	}
}

// SQLExecutor executes statements through pooled database/sql handles.
type SQLExecutor struct {
	pool   *Pool
	config Config
}

// NewSQLExecutor creates an executor over pool.
func NewSQLExecutor(pool *Pool, cfg Config) *SQLExecutor {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaults.MaxRows
	}
	return &SQLExecutor{pool: pool, config: cfg}
}

// Execute runs statement and returns at most MaxRows rows. Byte slices are
// returned as strings.
func (e *SQLExecutor) Execute(ctx context.Context, cfg *domain.DBConfig, statement string) (*domain.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	db, err := e.pool.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("error executing SQL query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &domain.QueryResult{Rows: []map[string]any{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.config.MaxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error executing SQL query: %w", err)
	}

	return result, nil
}

// ListTables returns the table names of the database in lexicographic order.
func (e *SQLExecutor) ListTables(ctx context.Context, cfg *domain.DBConfig) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	intro, err := IntrospectorFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := e.pool.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tables, err := intro.Tables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

var _ Executor = (*SQLExecutor)(nil)
