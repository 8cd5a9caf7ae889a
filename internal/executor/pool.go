// Package executor runs statements against tenant databases.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/retry"
)

// PoolConfig bounds the connections opened per database.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// PingTimeout bounds each connection attempt.
	PingTimeout time.Duration
	// Retry applies to opening and pinging, never to statements. The zero
	// value means retry.DefaultPolicy.
	Retry  retry.Policy
	Logger *observability.Logger
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		Retry:           retry.DefaultPolicy(),
	}
}

type poolKey struct {
	driver string
	dsn    string
}

func (k poolKey) String() string {
	return k.driver + "\x00" + k.dsn
}

// Pool caches one *sql.DB per (driver, DSN). It is safe for concurrent use.
// The lock only guards the map; connecting to one database never holds up
// lookups for another.
type Pool struct {
	mu     sync.Mutex
	dbs    map[poolKey]*sql.DB
	group  singleflight.Group
	config PoolConfig
	logger *observability.Logger
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	defaults := DefaultPoolConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = defaults.Retry
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Pool{dbs: make(map[poolKey]*sql.DB), config: cfg, logger: cfg.Logger}
}

// Open returns the pooled handle for cfg, opening and pinging it on first use.
// Concurrent first opens of the same database share one attempt.
func (p *Pool) Open(ctx context.Context, cfg *domain.DBConfig) (*sql.DB, error) {
	driver, dsn, err := DataSource(cfg)
	if err != nil {
		return nil, err
	}
	key := poolKey{driver: driver, dsn: dsn}

	if db, ok := p.lookup(key); ok {
		return db, nil
	}

	v, err, _ := p.group.Do(key.String(), func() (any, error) {
		if db, ok := p.lookup(key); ok {
			return db, nil
		}
		db, err := p.connect(ctx, key, cfg)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := p.dbs[key]; ok {
			_ = db.Close()
			return existing, nil
		}
		p.dbs[key] = db
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (p *Pool) lookup(key poolKey) (*sql.DB, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	db, ok := p.dbs[key]
	return db, ok
}

// connect opens and pings a new handle, retrying connection failures.
func (p *Pool) connect(ctx context.Context, key poolKey, cfg *domain.DBConfig) (*sql.DB, error) {
	var db *sql.DB
	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		h, err := sql.Open(key.driver, key.dsn)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to open database: %w", err))
		}

		if cfg.Driver == domain.DriverSQLite {
			// In-memory sqlite databases live as long as their one connection.
			h.SetMaxOpenConns(1)
		} else {
			h.SetMaxOpenConns(p.config.MaxOpenConns)
			h.SetMaxIdleConns(p.config.MaxIdleConns)
			h.SetConnMaxLifetime(p.config.ConnMaxLifetime)
		}

		pingCtx, cancel := context.WithTimeout(ctx, p.config.PingTimeout)
		defer cancel()
		if err := h.PingContext(pingCtx); err != nil {
			_ = h.Close()
			return fmt.Errorf("failed to ping database %q: %w", cfg.Alias, err)
		}
		db = h
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		p.logger.Warn().
			Err(err).
			Str("tenant_id", cfg.TenantID).
			Str("db_name", cfg.Alias).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Database connection failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes every pooled handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, key)
	}
	return firstErr
}

// DataSource returns the database/sql driver name and DSN for cfg.
func DataSource(cfg *domain.DBConfig) (string, string, error) {
	switch cfg.Driver {
	case domain.DriverPostgres, "":
		if cfg.DSN != "" {
			return "pgx", cfg.DSN, nil
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=disable",
		}
		return "pgx", u.String(), nil

	case domain.DriverMySQL:
		if cfg.DSN != "" {
			return "mysql", cfg.DSN, nil
		}
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		return "mysql", mc.FormatDSN(), nil

	case domain.DriverSQLite:
		if cfg.DSN != "" {
			return "sqlite3", cfg.DSN, nil
		}
		if cfg.Database == "" {
			return "", "", fmt.Errorf("sqlite database %q has no path", cfg.Alias)
		}
		return "sqlite3", cfg.Database, nil

	default:
		return "", "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}
