package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: DELFOS_SQL__MAX_RETRIES sets sql.max_retries.
const EnvPrefix = "DELFOS_"

// Config is the complete application configuration.
type Config struct {
	SQL       SQLConfig       `koanf:"sql"`
	Timeouts  TimeoutsConfig  `koanf:"timeouts"`
	LLM       LLMConfig       `koanf:"llm"`
	Retry     RetryConfig     `koanf:"retry"`
	Cache     CacheConfig     `koanf:"cache"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Warehouse DBConfig        `koanf:"warehouse"`
	Database  DBConfig        `koanf:"database"`
	Pool      PoolConfig      `koanf:"pool"`
	Session   SessionConfig   `koanf:"session"`
	Schema    SchemaConfig    `koanf:"schema"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
}

// SQLConfig bounds the resolution loop.
type SQLConfig struct {
	MaxRetries             int    `koanf:"max_retries"`
	MaxVerificationRetries int    `koanf:"max_verification_retries"`
	RowCeiling             int    `koanf:"row_ceiling"`
	UseLLMVerification     bool   `koanf:"use_llm_verification"`
	RequiredPrefix         string `koanf:"required_prefix"`
	WarehouseSchema        string `koanf:"warehouse_schema"`
}

// TimeoutsConfig holds per-collaborator timeouts.
type TimeoutsConfig struct {
	Generation   time.Duration `koanf:"generation"`
	Execution    time.Duration `koanf:"execution"`
	Verification time.Duration `koanf:"verification"`
	Triage       time.Duration `koanf:"triage"`
	Intent       time.Duration `koanf:"intent"`
}

// LLMConfig selects the generation model.
type LLMConfig struct {
	Provider              string        `koanf:"provider"`
	Model                 string        `koanf:"model"`
	APIKey                string        `koanf:"api_key"`
	Temperature           float64       `koanf:"temperature"`
	MaxTokens             int64         `koanf:"max_tokens"`
	MaxConcurrentRequests int           `koanf:"max_concurrent_requests"`
	GateTimeout           time.Duration `koanf:"gate_timeout"`
}

// RetryConfig is the transient-failure policy for model calls.
type RetryConfig struct {
	MaxRetries    int           `koanf:"max_retries"`
	InitialDelay  time.Duration `koanf:"initial_delay"`
	BackoffFactor float64       `koanf:"backoff_factor"`
}

// CacheConfig sizes the cache tiers.
type CacheConfig struct {
	Exact    BoundedCacheConfig  `koanf:"exact"`
	Semantic SemanticCacheConfig `koanf:"semantic"`
	Schema   BoundedCacheConfig  `koanf:"schema"`
}

// BoundedCacheConfig sizes one bounded cache.
type BoundedCacheConfig struct {
	MaxSize int           `koanf:"max_size"`
	TTL     time.Duration `koanf:"ttl"`
}

// SemanticCacheConfig sizes the semantic cache.
type SemanticCacheConfig struct {
	Enabled   bool          `koanf:"enabled"`
	MaxSize   int           `koanf:"max_size"`
	TTL       time.Duration `koanf:"ttl"`
	Threshold float64       `koanf:"threshold"`
}

// EmbeddingConfig selects the embedder. An empty provider disables the
// semantic tiers.
type EmbeddingConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
}

// DBConfig opens one connection pool.
type DBConfig struct {
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
	MaxSize int    `koanf:"max_size"`
}

// PoolConfig holds settings shared by both pools.
type PoolConfig struct {
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

// SessionConfig configures conversation context.
type SessionConfig struct {
	MaxHistoryTurns int  `koanf:"max_history_turns"`
	Persist         bool `koanf:"persist"`
}

// SchemaConfig locates the table catalog.
type SchemaConfig struct {
	CatalogPath string `koanf:"catalog_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Defaults are applied to every key left unset by the file and the
// environment.
var Defaults = map[string]any{
	"sql.max_retries":              2,
	"sql.max_verification_retries": 2,
	"sql.row_ceiling":              10000,
	"sql.use_llm_verification":     false,
	"sql.required_prefix":          "",
	"sql.warehouse_schema":         "gold",

	"timeouts.generation":   "120s",
	"timeouts.execution":    "50s",
	"timeouts.verification": "10s",
	"timeouts.triage":       "5s",
	"timeouts.intent":       "5s",

	"llm.provider":                "anthropic",
	"llm.temperature":             0.0,
	"llm.max_tokens":              4096,
	"llm.max_concurrent_requests": 2,
	"llm.gate_timeout":            "0s",

	"retry.max_retries":    3,
	"retry.initial_delay":  "5s",
	"retry.backoff_factor": 2.0,

	"cache.exact.max_size":     200,
	"cache.exact.ttl":          "3600s",
	"cache.semantic.enabled":   true,
	"cache.semantic.max_size":  200,
	"cache.semantic.ttl":       "1800s",
	"cache.semantic.threshold": 0.82,
	"cache.schema.max_size":    100,
	"cache.schema.ttl":         "3600s",

	"warehouse.driver":     "sqlite",
	"warehouse.max_size":   10,
	"database.driver":      "sqlite",
	"database.max_size":    4,
	"pool.acquire_timeout": "30s",

	"session.max_history_turns": 10,
	"session.persist":           true,
	"log.level":                 "info",
	"log.format":                "json",
	"telemetry.enabled":         false,
	"telemetry.service_name":    "delfos",
	"server.addr":               ":8080",
	"schema.catalog_path":       "catalog.yaml",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads .env (when present), then path (a missing file is not an
// error), then DELFOS_ environment variables, and fills the remaining keys
// from Defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, val := range Defaults {
		if !k.Exists(key) {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.Embedding.APIKey = substituteEnvVars(cfg.Embedding.APIKey)
	cfg.Warehouse.DSN = substituteEnvVars(cfg.Warehouse.DSN)
	cfg.Database.DSN = substituteEnvVars(cfg.Database.DSN)

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SQL.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("sql.max_retries must be positive, got %d", c.SQL.MaxRetries))
	}
	if c.SQL.MaxVerificationRetries <= 0 {
		errs = append(errs, fmt.Errorf("sql.max_verification_retries must be positive, got %d", c.SQL.MaxVerificationRetries))
	}
	if c.SQL.RowCeiling < 0 {
		errs = append(errs, fmt.Errorf("sql.row_ceiling must not be negative, got %d", c.SQL.RowCeiling))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}
	if c.LLM.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_concurrent_requests must be positive, got %d", c.LLM.MaxConcurrentRequests))
	}
	if c.Warehouse.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("warehouse.max_size must be positive, got %d", c.Warehouse.MaxSize))
	}
	if c.Database.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("database.max_size must be positive, got %d", c.Database.MaxSize))
	}
	if t := c.Cache.Semantic.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("cache.semantic.threshold must be within [0,1], got %v", t))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
