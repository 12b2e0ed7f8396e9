// Package app provides application initialization and dependency wiring.
//
// App is the container the CLI commands build once: Genkit with the Google
// AI plugin for embeddings, the pgx pool with pgvector types, the SQLite
// manifest, and the ingestion/retrieval components on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/odookb/odookb/internal/chunk"
	"github.com/odookb/odookb/internal/config"
	"github.com/odookb/odookb/internal/embed"
	"github.com/odookb/odookb/internal/ingest"
	"github.com/odookb/odookb/internal/manifest"
	"github.com/odookb/odookb/internal/retrieve"
	"github.com/odookb/odookb/internal/source"
	"github.com/odookb/odookb/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit    *genkit.Genkit
	Gateway   *embed.Gateway
	DBPool    *pgxpool.Pool
	Chunks    *store.Store
	Manifest  *manifest.SQLite
	Retriever *retrieve.Engine

	logger *slog.Logger
}

// New builds the application container. Callers must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.GeminiAPIKey}))
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.Embedding.Model)

	gateway, err := embed.New(embedder, embed.Options{
		Dimension:         cfg.Embedding.Dimension,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		Retry: embed.RetryPolicy{
			MaxAttempts: cfg.Embedding.RetryMaxAttempts,
			BaseDelay:   cfg.Embedding.RetryBaseDelay,
			MaxDelay:    cfg.Embedding.RetryMaxDelay,
		},
		// gemini-embedding-001 emits 3072 dimensions by default; truncate
		// to the store's column width (Matryoshka representation).
		RequestOptions: &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(cfg.Embedding.Dimension)),
		},
	}, logger.With("component", "embed"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding gateway: %w", err)
	}

	pool, err := store.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging vector store: %w", err)
	}

	mf, err := manifest.OpenSQLite(cfg.ManifestPath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("opening manifest: %w", err)
	}

	chunks := store.New(pool, logger.With("component", "store"))

	return &App{
		Config:    cfg,
		Genkit:    g,
		Gateway:   gateway,
		DBPool:    pool,
		Chunks:    chunks,
		Manifest:  mf,
		Retriever: retrieve.New(gateway, chunks, logger.With("component", "retrieve")),
		logger:    logger,
	}, nil
}

// Coordinator builds an ingestion coordinator over the container's
// components for the configured source tree.
func (a *App) Coordinator() *ingest.Coordinator {
	scanner := source.NewScanner(a.Config.Ingest.SourceDir, a.logger.With("component", "source"))
	chunker := chunk.New(chunk.Options{MaxChunkSize: a.Config.Ingest.ChunkSize})

	return ingest.New(scanner, chunker, a.Gateway, a.Chunks, a.Manifest,
		ingest.Options{
			Workers: a.Config.Ingest.Workers,
			LockDir: a.Config.LockDir,
		},
		a.logger.With("component", "ingest"))
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger.Debug("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.Manifest != nil {
		if err := a.Manifest.Close(); err != nil {
			return fmt.Errorf("closing manifest: %w", err)
		}
	}
	return nil
}
