package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
)

// Config holds the sightdex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Memory    MemoryConfig    `yaml:"memory"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys        []string `yaml:"api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS; empty disables
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis/Valkey connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	// TextSearch enables TEXT fields and BM25. Off by default for valkey.
	TextSearch *bool `yaml:"text_search"`
}

// TextSearchEnabled resolves the driver default.
func (d DatabaseConfig) TextSearchEnabled() bool {
	if d.TextSearch != nil {
		return *d.TextSearch
	}
	return d.Driver == "redis"
}

// PostgresConfig holds the Postgres pool settings. An empty DSN disables it.
type PostgresConfig struct {
	DSN                string `yaml:"dsn"`
	MaxConns           int32  `yaml:"max_conns"`
	MaxConnLifetimeSec int    `yaml:"max_conn_lifetime_sec"`
}

// SQLiteConfig holds the embedded memory store settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours"` // 0 = default, <0 disables cache
}

// LLMConfig holds the structured completion provider settings.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai, anthropic
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	Strict            *bool   `yaml:"strict"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unthrottled
	Burst             int     `yaml:"burst"`
}

// RetrievalConfig holds backend and fusion settings.
type RetrievalConfig struct {
	Backend         string `yaml:"backend"` // redis, postgres
	Fusion          string `yaml:"fusion"`  // weighted, rrf
	TimeoutSec      int    `yaml:"timeout_sec"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	Store             string `yaml:"store"` // postgres, sqlite
	ExtractTimeoutSec int    `yaml:"extract_timeout_sec"`
	DisableExtraction bool   `yaml:"disable_extraction"`
}

// RateLimitConfig holds per-user limits on the LLM-backed routes.
type RateLimitConfig struct {
	Limit     int    `yaml:"limit"` // 0 disables
	WindowSec int    `yaml:"window_sec"`
	Store     string `yaml:"store"`    // memory, redis
	MaxKeys   int    `yaml:"max_keys"` // memory store bound
}

// CleanupConfig holds background cleanup settings.
type CleanupConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// CatalogConfig points at the category and attribute schema file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// extraction runs three LLM calls inside one request
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1024
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 20
	}
	if c.LLM.Burst <= 0 {
		c.LLM.Burst = 1
	}
	if c.Retrieval.Backend == "" {
		c.Retrieval.Backend = "redis"
	}
	if c.Retrieval.Fusion == "" {
		c.Retrieval.Fusion = "weighted"
	}
	if c.Retrieval.TimeoutSec <= 0 {
		c.Retrieval.TimeoutSec = 5
	}
	if c.Retrieval.HNSWM <= 0 {
		c.Retrieval.HNSWM = 32
	}
	if c.Retrieval.HNSWEFConstruct <= 0 {
		c.Retrieval.HNSWEFConstruct = 400
	}
	if c.Memory.Store == "" {
		c.Memory.Store = "sqlite"
	}
	if c.Memory.ExtractTimeoutSec <= 0 {
		c.Memory.ExtractTimeoutSec = 20
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "sightdex.db"
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.MaxKeys <= 0 {
		c.RateLimit.MaxKeys = 10000
	}
	if c.Cleanup.TimeoutSec <= 0 {
		c.Cleanup.TimeoutSec = 30
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "config/catalog.yaml"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be \"openai\" or \"anthropic\", got %q", c.LLM.Provider)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}
	switch c.Retrieval.Backend {
	case "redis":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("retrieval.backend \"postgres\" requires postgres.dsn")
		}
	default:
		return fmt.Errorf("retrieval.backend must be \"redis\" or \"postgres\", got %q", c.Retrieval.Backend)
	}
	switch c.Retrieval.Fusion {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("retrieval.fusion must be \"weighted\" or \"rrf\", got %q", c.Retrieval.Fusion)
	}
	switch c.Memory.Store {
	case "sqlite":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("memory.store \"postgres\" requires postgres.dsn")
		}
	default:
		return fmt.Errorf("memory.store must be \"postgres\" or \"sqlite\", got %q", c.Memory.Store)
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.store must be \"memory\" or \"redis\", got %q", c.RateLimit.Store)
	}
	return nil
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// LoadCatalog reads and validates the category and attribute schema file.
func LoadCatalog(path string) (*domattr.Catalog, error) {
	resolved := path
	if !filepath.IsAbs(path) && !fileExists(path) {
		if alt := filepath.Join(projectRoot(), path); fileExists(alt) {
			resolved = alt
		}
	}
	data, err := os.ReadFile(filepath.Clean(resolved))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", resolved, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*domattr.Catalog, error) {
	var cat domattr.Catalog
	if err := yaml.Unmarshal(expandEnvVars(data), &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	if path := filepath.Join(projectRoot(), "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func projectRoot() string {
	_, b, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
