// Package config provides unified configuration loading for the Document Engine.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Document Engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	LLM           LLMConfig           `yaml:"llm"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Anomaly       AnomalyConfig       `yaml:"anomaly"`
	Linking       LinkingConfig       `yaml:"linking"`
	Confidence    ConfidenceConfig    `yaml:"confidence"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LLMConfig holds model provider settings.
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RateLimit     float64       `yaml:"rate_limit"` // requests per second, 0 disables
	MaxConcurrent int           `yaml:"max_concurrent"`
	Mock          bool          `yaml:"mock"` // use the deterministic mock client
}

// ChunkingConfig holds text chunking settings.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// ExtractionConfig holds entity extraction settings.
type ExtractionConfig struct {
	BatchSize         int `yaml:"batch_size"`
	MaxRepairAttempts int `yaml:"max_repair_attempts"`
}

// SummarizationConfig holds hierarchical summarization settings.
type SummarizationConfig struct {
	BatchSize   int `yaml:"batch_size"`
	SectionSize int `yaml:"section_size"`
}

// AnomalyConfig holds anomaly detection settings.
type AnomalyConfig struct {
	EnableLLMScan bool `yaml:"enable_llm_scan"`
}

// LinkingConfig holds entity linking settings.
type LinkingConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ConfidenceConfig holds confidence signal weights.
type ConfidenceConfig struct {
	Extraction ExtractionWeightsConfig `yaml:"extraction"`
	Overall    OverallWeightsConfig    `yaml:"overall"`
}

// ExtractionWeightsConfig holds per-signal weights for extraction confidence.
type ExtractionWeightsConfig struct {
	Validity          float64 `yaml:"validity"`
	EntityConsistency float64 `yaml:"entity_consistency"`
	Coverage          float64 `yaml:"coverage"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	RepairPenalty     float64 `yaml:"repair_penalty"`
	TokenEfficiency   float64 `yaml:"token_efficiency"`
}

// OverallWeightsConfig holds per-stage weights for overall document confidence.
type OverallWeightsConfig struct {
	Extraction    float64 `yaml:"extraction"`
	Summary       float64 `yaml:"summary"`
	Anomaly       float64 `yaml:"anomaly"`
	EntityLinking float64 `yaml:"entity_linking"`
}

// DocumentsConfig holds document intake settings.
type DocumentsConfig struct {
	MaxContentBytes   int64    `yaml:"max_content_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	// Pick up .env files so local runs get API keys without exporting them
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env")

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

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
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/document-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		LLM: LLMConfig{
			BaseURL:       "https://openrouter.ai/api/v1",
			Model:         "openai/gpt-4o-mini",
			Temperature:   0.1,
			MaxTokens:     2000,
			Timeout:       60 * time.Second,
			MaxRetries:    3,
			RateLimit:     5,
			MaxConcurrent: 5,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: 2000,
			ChunkOverlap: 200,
		},
		Extraction: ExtractionConfig{
			BatchSize:         5,
			MaxRepairAttempts: 3,
		},
		Summarization: SummarizationConfig{
			BatchSize:   5,
			SectionSize: 5,
		},
		Anomaly: AnomalyConfig{
			EnableLLMScan: false,
		},
		Linking: LinkingConfig{
			SimilarityThreshold: 0.8,
		},
		Confidence: ConfidenceConfig{
			Extraction: ExtractionWeightsConfig{
				Validity:          0.30,
				EntityConsistency: 0.20,
				Coverage:          0.15,
				RepetitionPenalty: 0.10,
				RepairPenalty:     0.15,
				TokenEfficiency:   0.10,
			},
			Overall: OverallWeightsConfig{
				Extraction:    0.3,
				Summary:       0.3,
				Anomaly:       0.2,
				EntityLinking: 0.2,
			},
		},
		Documents: DocumentsConfig{
			MaxContentBytes:   10 * 1024 * 1024,
			AllowedExtensions: []string{".txt", ".md", ".csv"},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "debug",
			LogFormat:   "json",
			ServiceName: "document-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Chunking.MaxChunkSize < 1 {
		return fmt.Errorf("max_chunk_size must be positive")
	}

	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, max_chunk_size)")
	}

	if c.Extraction.BatchSize < 1 {
		return fmt.Errorf("extraction batch_size must be positive")
	}

	if c.Extraction.MaxRepairAttempts < 0 {
		return fmt.Errorf("max_repair_attempts must not be negative")
	}

	if c.Summarization.BatchSize < 1 || c.Summarization.SectionSize < 1 {
		return fmt.Errorf("summarization batch_size and section_size must be positive")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be in [0, 2]")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver == "sqlite" || c.LLM.Mock
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		// Parse redis://host:port format
		addr := strings.TrimPrefix(v, "redis://")
		cfg.Cache.Redis.Addr = addr
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_MOCK"); v == "true" {
		cfg.LLM.Mock = true
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
