package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/querydeck/querydeck/internal/domain"
)

const credentialColumns = `tenant_id, db_name, db_driver, db_host, db_port, db_database, db_user, db_password`

const postgresCredentialsDDL = `
CREATE TABLE IF NOT EXISTS db_credentials (
	id SERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	db_name VARCHAR(50) NOT NULL,
	db_driver VARCHAR(20) NOT NULL DEFAULT 'postgres',
	db_host VARCHAR(255) NOT NULL DEFAULT '',
	db_port INTEGER NOT NULL DEFAULT 0,
	db_database VARCHAR(255) NOT NULL,
	db_user VARCHAR(255) NOT NULL DEFAULT '',
	db_password VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (tenant_id, db_name)
)`

const sqliteCredentialsDDL = `
CREATE TABLE IF NOT EXISTS db_credentials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	db_name TEXT NOT NULL,
	db_driver TEXT NOT NULL DEFAULT 'postgres',
	db_host TEXT NOT NULL DEFAULT '',
	db_port INTEGER NOT NULL DEFAULT 0,
	db_database TEXT NOT NULL,
	db_user TEXT NOT NULL DEFAULT '',
	db_password TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (tenant_id, db_name)
)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.DBConfig, error) {
	var c domain.DBConfig
	var driver string
	err := row.Scan(&c.TenantID, &c.Alias, &driver, &c.Host, &c.Port, &c.Database, &c.User, &c.Password)
	c.Driver = domain.Driver(driver)
	return c, err
}

// PostgresCredentialStore reads the control-plane db_credentials table
// through a pgx connection pool.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialStore connects to dsn and verifies the connection.
func NewPostgresCredentialStore(ctx context.Context, dsn string) (*PostgresCredentialStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping credential database: %w", err)
	}
	return &PostgresCredentialStore{pool: pool}, nil
}

// Migrate creates the credentials table if it does not exist.
func (s *PostgresCredentialStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresCredentialsDDL); err != nil {
		return fmt.Errorf("create db_credentials: %w", err)
	}
	return nil
}

func (s *PostgresCredentialStore) List(ctx context.Context, tenantID string) ([]domain.DBConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM db_credentials WHERE tenant_id = $1 ORDER BY db_name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.DBConfig
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credentials: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresCredentialStore) Get(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM db_credentials WHERE tenant_id = $1 AND db_name = $2`, tenantID, alias)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDatabaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}

func (s *PostgresCredentialStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresCredentialStore) Close() error {
	s.pool.Close()
	return nil
}

// SQLiteCredentialStore keeps the credentials table in a local sqlite file.
// It is meant for development and single-node setups.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore opens path and creates the table if needed.
func NewSQLiteCredentialStore(ctx context.Context, path string) (*SQLiteCredentialStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCredentialsDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create db_credentials: %w", err)
	}
	return &SQLiteCredentialStore{db: db}, nil
}

// Put inserts or replaces a credential.
func (s *SQLiteCredentialStore) Put(ctx context.Context, c domain.DBConfig) error {
	driver := c.Driver
	if driver == "" {
		driver = domain.DriverPostgres
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO db_credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, db_name) DO UPDATE SET
			db_driver = excluded.db_driver,
			db_host = excluded.db_host,
			db_port = excluded.db_port,
			db_database = excluded.db_database,
			db_user = excluded.db_user,
			db_password = excluded.db_password`,
		c.TenantID, c.Alias, string(driver), c.Host, c.Port, c.Database, c.User, c.Password)
	if err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}

func (s *SQLiteCredentialStore) List(ctx context.Context, tenantID string) ([]domain.DBConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM db_credentials WHERE tenant_id = ? ORDER BY db_name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.DBConfig
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credentials: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteCredentialStore) Get(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM db_credentials WHERE tenant_id = ? AND db_name = ?`, tenantID, alias)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDatabaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}

func (s *SQLiteCredentialStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}

var (
	_ CredentialStore = (*PostgresCredentialStore)(nil)
	_ CredentialStore = (*SQLiteCredentialStore)(nil)
)
