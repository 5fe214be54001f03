// Package config loads rakh-sync settings from YAML with RAKH_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all rakh-sync configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Query   QueryConfig   `yaml:"query"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the backend API host.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	RequestTimeout string   `yaml:"request_timeout"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// APIConfig configures the client side gateway.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// QueryConfig configures the client query cache.
type QueryConfig struct {
	StaleTime string `yaml:"stale_time"`
	GCTime    string `yaml:"gc_time"`
	Retry     int    `yaml:"retry"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"` // memory, postgres
	PostgresDSN  string `yaml:"postgres_dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	ConnLifetime string `yaml:"conn_lifetime"`
}

type CacheConfig struct {
	Driver        string `yaml:"driver"` // none, memory, redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           string `yaml:"ttl"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			RequestTimeout: "15s",
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: "10s",
		},
		Query: QueryConfig{
			StaleTime: "30s",
			GCTime:    "5m",
			Retry:     2,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Cache: CacheConfig{
			Driver: CacheMemory,
			TTL:    "30s",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("config: read: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAKH_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("RAKH_SERVER_REQUEST_TIMEOUT"); v != "" {
		c.Server.RequestTimeout = v
	}
	if v := os.Getenv("RAKH_SERVER_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("RAKH_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("RAKH_API_TIMEOUT"); v != "" {
		c.API.Timeout = v
	}
	if v := os.Getenv("RAKH_QUERY_STALE_TIME"); v != "" {
		c.Query.StaleTime = v
	}
	if v := os.Getenv("RAKH_QUERY_GC_TIME"); v != "" {
		c.Query.GCTime = v
	}
	if v := os.Getenv("RAKH_QUERY_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Query.Retry = n
		}
	}

	// A DSN or redis address implies its driver unless one is set explicitly.
	if v := os.Getenv("RAKH_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
		c.Storage.Driver = StoragePostgres
	}
	if v := os.Getenv("RAKH_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("RAKH_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Driver = CacheRedis
	}
	if v := os.Getenv("RAKH_REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
	if v := os.Getenv("RAKH_CACHE_DRIVER"); v != "" {
		c.Cache.Driver = v
	}
	if v := os.Getenv("RAKH_CACHE_TTL"); v != "" {
		c.Cache.TTL = v
	}

	if v := os.Getenv("RAKH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAKH_LOG_DEVELOPMENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Development = b
		}
	}
}

// Validate checks drivers, their required settings and duration syntax.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Cache.Driver {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("config: cache.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config: unknown cache driver %q", c.Cache.Driver)
	}

	if c.Cache.RedisDB < 0 {
		return fmt.Errorf("config: cache.redis_db must not be negative")
	}
	if c.Storage.MaxOpenConns < 0 {
		return fmt.Errorf("config: storage.max_open_conns must not be negative")
	}
	if c.Query.Retry < 0 {
		return fmt.Errorf("config: query.retry must not be negative")
	}
	for name, v := range map[string]string{
		"server.request_timeout": c.Server.RequestTimeout,
		"api.timeout":            c.API.Timeout,
		"query.stale_time":       c.Query.StaleTime,
		"query.gc_time":          c.Query.GCTime,
		"cache.ttl":              c.Cache.TTL,
		"storage.conn_lifetime":  c.Storage.ConnLifetime,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// GetRequestTimeout bounds each API request; zero disables the bound.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 0)
}

// GetAPITimeout returns the gateway request timeout.
func (c *Config) GetAPITimeout() time.Duration {
	return parseDuration(c.API.Timeout, 10*time.Second)
}

func (c *Config) GetStaleTime() time.Duration {
	return parseDuration(c.Query.StaleTime, 0)
}

// GetGCTime returns how long an unobserved query entry is kept. A negative
// value disables collection.
func (c *Config) GetGCTime() time.Duration {
	return parseDuration(c.Query.GCTime, 5*time.Minute)
}

// GetConnLifetime returns how long a pooled postgres connection is reused;
// zero keeps the driver default.
func (c *Config) GetConnLifetime() time.Duration {
	return parseDuration(c.Storage.ConnLifetime, 0)
}

func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 30*time.Second)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
