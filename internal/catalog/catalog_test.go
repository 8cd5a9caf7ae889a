package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/executor"
)

func memoryDB(t *testing.T, alias string) domain.DBConfig {
	t.Helper()
	return domain.DBConfig{
		TenantID: "t1",
		Alias:    alias,
		Driver:   domain.DriverSQLite,
		DSN:      fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", t.Name(), alias),
	}
}

func TestCatalog_Schema(t *testing.T) {
	ctx := context.Background()
	pool := executor.NewPool(executor.PoolConfig{})
	t.Cleanup(func() { _ = pool.Close() })

	main := memoryDB(t, "main")
	db, err := pool.Open(ctx, &main)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`)
	require.NoError(t, err)

	broken := domain.DBConfig{TenantID: "t1", Alias: "broken", Driver: "oracle"}
	store := NewFileCredentialStore(main, broken, domain.DBConfig{TenantID: "t2", Alias: "other", Driver: domain.DriverSQLite, Database: "x"})

	c := New(store, pool, nil, 0)
	view, err := c.Schema(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, []string{"main"}, view.Aliases(), "failing databases are omitted")
	require.Contains(t, view["main"], "users")
	assert.Equal(t, "email", view["main"]["users"][1].Name)

	empty, err := c.Schema(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestCatalog_Database(t *testing.T) {
	store := NewFileCredentialStore(domain.DBConfig{TenantID: "t1", Alias: "main", Driver: domain.DriverSQLite, Database: "a.db"})
	c := New(store, executor.NewPool(executor.PoolConfig{}), nil, 0)

	cfg, err := c.Database(context.Background(), "t1", "main")
	require.NoError(t, err)
	assert.Equal(t, "a.db", cfg.Database)

	_, err = c.Database(context.Background(), "t2", "main")
	assert.True(t, errors.Is(err, ErrDatabaseNotFound))
}

type failingStore struct{ FileCredentialStore }

func (*failingStore) List(ctx context.Context, tenantID string) ([]domain.DBConfig, error) {
	return nil, errors.New("connection refused")
}

func TestCatalog_StoreFailureYieldsEmptyView(t *testing.T) {
	c := New(&failingStore{}, executor.NewPool(executor.PoolConfig{}), nil, 0)

	view, err := c.Schema(context.Background(), "t1")
	assert.Error(t, err)
	assert.True(t, view.Empty())
}

func TestLoadFileCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
databases:
  - tenant_id: acme
    db_name: zeta
    driver: postgres
    host: db.internal
    port: 5432
    database: zeta
    user: app
    password: secret
  - tenant_id: acme
    db_name: alpha
    driver: sqlite
    database: ./alpha.db
`), 0o600))

	store, err := LoadFileCredentialStore(path)
	require.NoError(t, err)

	list, err := store.List(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Alias)
	assert.Equal(t, "secret", list[1].Password)
	assert.Equal(t, domain.DriverPostgres, list[1].Driver)

	_, err = LoadFileCredentialStore(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSQLiteCredentialStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteCredentialStore(ctx, filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put(ctx, domain.DBConfig{TenantID: "t1", Alias: "sales", Host: "h", Port: 5432, Database: "sales", User: "u", Password: "p"}))
	require.NoError(t, store.Put(ctx, domain.DBConfig{TenantID: "t1", Alias: "local", Driver: domain.DriverSQLite, Database: "local.db"}))
	require.NoError(t, store.Put(ctx, domain.DBConfig{TenantID: "t1", Alias: "sales", Host: "h2", Port: 5433, Database: "sales", User: "u", Password: "p"}))

	list, err := store.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "local", list[0].Alias)
	assert.Equal(t, domain.DriverSQLite, list[0].Driver)

	cfg, err := store.Get(ctx, "t1", "sales")
	require.NoError(t, err)
	assert.Equal(t, "h2", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, domain.DriverPostgres, cfg.Driver)

	_, err = store.Get(ctx, "t1", "nope")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.NoError(t, store.Ping(ctx))
}
