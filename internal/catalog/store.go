// Package catalog resolves a tenant's database connections and builds the
// schema view the resolvers work from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/querydeck/querydeck/internal/domain"
)

// ErrDatabaseNotFound indicates the tenant has no database with that alias.
var ErrDatabaseNotFound = errors.New("database not found")

// CredentialStore reads tenant database connections.
type CredentialStore interface {
	// List returns the tenant's databases ordered by alias.
	List(ctx context.Context, tenantID string) ([]domain.DBConfig, error)
	// Get returns ErrDatabaseNotFound when the alias is unknown.
	Get(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error)
	Ping(ctx context.Context) error
	Close() error
}

// FileCredentialStore serves credentials from a YAML file:
//
//	databases:
//	  - tenant_id: acme
//	    db_name: main
//	    driver: sqlite
//	    database: ./data/acme.db
type FileCredentialStore struct {
	mu  sync.RWMutex
	dbs map[string][]domain.DBConfig
}

type credentialFile struct {
	Databases []domain.DBConfig `yaml:"databases"`
}

// LoadFileCredentialStore reads path into a FileCredentialStore.
func LoadFileCredentialStore(path string) (*FileCredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var f credentialFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return NewFileCredentialStore(f.Databases...), nil
}

// NewFileCredentialStore creates a static store from configs.
func NewFileCredentialStore(configs ...domain.DBConfig) *FileCredentialStore {
	s := &FileCredentialStore{dbs: make(map[string][]domain.DBConfig)}
	for _, c := range configs {
		s.dbs[c.TenantID] = append(s.dbs[c.TenantID], c)
	}
	for tenant := range s.dbs {
		sortByAlias(s.dbs[tenant])
	}
	return s
}

func (s *FileCredentialStore) List(ctx context.Context, tenantID string) ([]domain.DBConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DBConfig, len(s.dbs[tenantID]))
	copy(out, s.dbs[tenantID])
	return out, nil
}

func (s *FileCredentialStore) Get(ctx context.Context, tenantID, alias string) (*domain.DBConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.dbs[tenantID] {
		if c.Alias == alias {
			cfg := c
			return &cfg, nil
		}
	}
	return nil, ErrDatabaseNotFound
}

func (s *FileCredentialStore) Ping(ctx context.Context) error { return nil }

func (s *FileCredentialStore) Close() error { return nil }

func sortByAlias(configs []domain.DBConfig) {
	sort.Slice(configs, func(i, j int) bool { return configs[i].Alias < configs[j].Alias })
}

var _ CredentialStore = (*FileCredentialStore)(nil)
