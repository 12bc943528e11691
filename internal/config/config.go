// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Backend names accepted in cache.backend.
const (
	BackendLocal    = "local"
	BackendOtter    = "otter"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config is the top-level configuration of the ghprs command.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Cache    CacheConfig    `yaml:"cache"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// GitHubConfig describes the project used when no saved profile is active.
type GitHubConfig struct {
	Token         string `yaml:"token"`
	Owner         string `yaml:"owner"`
	Repo          string `yaml:"repo"`
	EnterpriseURL string `yaml:"enterprise_url"` // empty for github.com
	DemoMode      bool   `yaml:"demo_mode"`
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	Backend         string        `yaml:"backend"` // local, otter, redis, postgres, dynamodb
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	RateLimitBuffer int           `yaml:"rate_limit_buffer"`
	MaxSize         int           `yaml:"max_size"` // otter only
	Coalesce        bool          `yaml:"coalesce"`
	TTLOverrides    []TTLEntry    `yaml:"ttl_overrides"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// TTLEntry keeps responses under a host+path prefix for a custom duration.
type TTLEntry struct {
	URI string        `yaml:"uri"`
	TTL time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN                string        `yaml:"dsn"`
	DeleteExpiredItems bool          `yaml:"delete_expired_items"`
	ExpiredTaskTimer   time.Duration `yaml:"expired_task_timer"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // eg. http://localhost:8000 for DynamoDB Local
}

// ProfilesConfig holds saved project storage settings.
type ProfilesConfig struct {
	DSN              string `yaml:"dsn"` // SQLite file path or ":memory:"
	UserID           string `yaml:"user_id"`
	EncryptionSecret string `yaml:"encryption_secret"`
	DemoSeed         uint64 `yaml:"demo_seed"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HTTPConfig tunes the outbound client.
type HTTPConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	DNSCache bool          `yaml:"dns_cache"`
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:         BackendLocal,
			DefaultTTL:      5 * time.Minute,
			RateLimitBuffer: 10,
			MaxSize:         10_000,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "ghcache:",
			},
			DynamoDB: DynamoDBConfig{
				Table: "ghcache",
			},
		},
		Profiles: ProfilesConfig{
			DSN:    "ghprs.db",
			UserID: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Timeout:  30 * time.Second,
			DNSCache: true,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case BackendLocal, BackendOtter, BackendRedis, BackendDynamoDB:
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("config: cache.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.RateLimitBuffer < 0 {
		return fmt.Errorf("config: cache.rate_limit_buffer must not be negative")
	}
	return nil
}
