// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (DATABASE_URL, GEMINI_API_KEY, ODOOKB_*)
//  2. Config file (~/.odookb/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Sensitive values (the Postgres password, the API key) are never logged.
// Validation is fail-fast: Load returns an error before any component sees
// an invalid value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DefaultEmbedderModel is the Gemini embedding model used unless
// overridden. Its output is truncated to EmbeddingConfig.Dimension, which
// must match the store's vector column.
const DefaultEmbedderModel = "gemini-embedding-001"

// DefaultDimension matches the vector(1536) column in the doc_chunks
// migration. Changing one requires changing the other.
const DefaultDimension = 1536

// Config stores the application configuration.
type Config struct {
	// PostgreSQL connection (vector store). See storage.go for builders.
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ingest    IngestConfig    `mapstructure:"ingest"`

	// ManifestPath is the SQLite database recording last-ingested hashes.
	ManifestPath string `mapstructure:"manifest_path"`

	// LockDir holds per-version ingestion run locks.
	LockDir string `mapstructure:"lock_dir"`

	// GeminiAPIKey authenticates embedding calls. Environment only.
	GeminiAPIKey string `mapstructure:"-"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	Model             string        `mapstructure:"model"`
	Dimension         int           `mapstructure:"dimension"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

// IngestConfig configures ingestion runs.
type IngestConfig struct {
	// SourceDir is the root of the converted markdown tree; versions live
	// under <SourceDir>/versions/<major.minor>/.
	SourceDir string `mapstructure:"source_dir"`

	// Workers bounds concurrent per-document pipelines.
	Workers int `mapstructure:"workers"`

	// ChunkSize is the chunk budget in bytes.
	ChunkSize int `mapstructure:"chunk_size"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".odookb")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "odookb")
	v.SetDefault("postgres_password", "odookb_dev_password")
	v.SetDefault("postgres_db_name", "odookb")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	v.SetDefault("embedding.model", DefaultEmbedderModel)
	v.SetDefault("embedding.dimension", DefaultDimension)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.requests_per_minute", 120)
	v.SetDefault("embedding.retry_max_attempts", 4)
	v.SetDefault("embedding.retry_base_delay", "500ms")
	v.SetDefault("embedding.retry_max_delay", "10s")

	// Ingestion defaults
	v.SetDefault("ingest.source_dir", "./data/markdown")
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.chunk_size", 5000)

	v.SetDefault("manifest_path", filepath.Join(configDir, "manifest.db"))
	v.SetDefault("lock_dir", filepath.Join(configDir, "locks"))
}

// bindEnvVariables binds ODOOKB_-prefixed environment overrides.
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("ODOOKB")
	v.AutomaticEnv()

	// Explicit binds for the commonly overridden values.
	for _, key := range []string{
		"postgres_host",
		"postgres_port",
		"postgres_user",
		"postgres_password",
		"postgres_db_name",
		"postgres_ssl_mode",
		"manifest_path",
	} {
		_ = v.BindEnv(key)
	}
}
