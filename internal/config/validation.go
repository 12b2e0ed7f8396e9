package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the SSL mode is not recognized.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates an unusable embedding dimension.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBatchSize indicates an unusable embedding batch size.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidWorkers indicates an unusable worker count.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidChunkSize indicates an unusable chunk budget.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// validSSLModes are the sslmode values libpq-compatible drivers accept.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration, failing fast with a sentinel error
// that callers can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.Embedding.Model) == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidDimension, c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidBatchSize, c.Embedding.BatchSize)
	}

	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidWorkers, c.Ingest.Workers)
	}
	if c.Ingest.ChunkSize < 100 {
		return fmt.Errorf("%w: %d (must be at least 100)", ErrInvalidChunkSize, c.Ingest.ChunkSize)
	}

	return nil
}
