// Package config provides unified configuration loading for querydeck.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for querydeck.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Intent        IntentConfig        `yaml:"intent"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Retry         RetryConfig         `yaml:"retry"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	Driver              string        `yaml:"driver"` // memory or redis
	TTL                 time.Duration `yaml:"ttl"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxEntries          int           `yaml:"max_entries"`
	Redis               RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // mock or http
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	MemoSize  int           `yaml:"memo_size"`
}

// LLMConfig holds language model settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxHistory  int           `yaml:"max_history"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IntentConfig holds pattern tier settings.
type IntentConfig struct {
	ConfidenceGate float64 `yaml:"confidence_gate"`
}

// CatalogConfig holds credential store settings.
type CatalogConfig struct {
	Driver               string        `yaml:"driver"` // file, sqlite or postgres
	Path                 string        `yaml:"path"`
	DSN                  string        `yaml:"dsn"`
	IntrospectionTimeout time.Duration `yaml:"introspection_timeout"`
}

// ExecutorConfig holds tenant database execution settings.
type ExecutorConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	MaxRows          int           `yaml:"max_rows"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
}

// RetryConfig holds backoff settings for remote providers.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// AuthConfig holds tenant resolution settings.
type AuthConfig struct {
	TenantHeader  string `yaml:"tenant_header"`
	DefaultTenant string `yaml:"default_tenant"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory, if present, is loaded first and never
// overrides variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		if cfg.Catalog.Driver != "postgres" && cfg.Catalog.Path != "" {
			cfg.Catalog.Path = ResolveRelativePath(path, cfg.Catalog.Path)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     90 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   75 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Cache: CacheConfig{
			Driver:              "memory",
			TTL:                 time.Hour,
			SimilarityThreshold: 0.88,
			MaxEntries:          10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "mock",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 384,
			Timeout:   10 * time.Second,
			MemoSize:  1000,
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxHistory: 12,
			Timeout:    60 * time.Second,
		},
		Intent: IntentConfig{
			ConfidenceGate: 0.8,
		},
		Catalog: CatalogConfig{
			Driver:               "file",
			Path:                 "databases.yaml",
			IntrospectionTimeout: 10 * time.Second,
		},
		Executor: ExecutorConfig{
			StatementTimeout: 30 * time.Second,
			MaxRows:          1000,
			MaxOpenConns:     10,
			MaxIdleConns:     2,
			ConnMaxLifetime:  30 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "querydeck",
		},
		Auth: AuthConfig{
			TenantHeader:  "X-Tenant-ID",
			DefaultTenant: "",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1]: %v", c.Cache.SimilarityThreshold)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.Intent.ConfidenceGate <= 0 || c.Intent.ConfidenceGate >= 1 {
		return fmt.Errorf("confidence_gate must be in (0, 1): %v", c.Intent.ConfidenceGate)
	}

	switch c.Embedding.Provider {
	case "mock":
	case "http":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding api_key is required for the http provider")
		}
	default:
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	switch c.Catalog.Driver {
	case "file", "sqlite":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog path is required for the %s driver", c.Catalog.Driver)
		}
	case "postgres":
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid catalog driver: %s", c.Catalog.Driver)
	}

	if c.Executor.MaxRows < 1 {
		return fmt.Errorf("max_rows must be at least 1")
	}

	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		if err := applyRedisURL(&cfg.Cache.Redis, v); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		cfg.Cache.Driver = "redis"
	}

	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL_SECONDS: %w", err)
		}
		cfg.Cache.TTL = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.Cache.SimilarityThreshold = f
	}

	if v := os.Getenv("INTENT_CONFIDENCE_GATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INTENT_CONFIDENCE_GATE: %w", err)
		}
		cfg.Intent.ConfidenceGate = f
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		cfg.Embedding.Provider = "http"
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("CATALOG_DSN"); v != "" {
		switch {
		case strings.HasPrefix(v, "sqlite:"):
			cfg.Catalog.Driver = "sqlite"
			cfg.Catalog.Path = strings.TrimPrefix(v, "sqlite:")
		case strings.HasPrefix(v, "postgres"):
			cfg.Catalog.Driver = "postgres"
			cfg.Catalog.DSN = v
		default:
			cfg.Catalog.Driver = "file"
			cfg.Catalog.Path = v
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("DEFAULT_TENANT"); v != "" {
		cfg.Auth.DefaultTenant = v
	}

	return nil
}

// applyRedisURL accepts either host:port or a redis:// URL with optional
// password and database number.
func applyRedisURL(rc *RedisConfig, raw string) error {
	if !strings.Contains(raw, "://") {
		rc.Addr = raw
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	rc.Addr = u.Host
	if pw, ok := u.User.Password(); ok {
		rc.Password = pw
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid database %q", db)
		}
		rc.DB = n
	}
	return nil
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
