// Package retrieve turns a natural-language question into a ranked set of
// documentation chunks for one version.
//
// The engine is the read path of the knowledge base: embed the query, run
// one similarity search scoped to the requested version, and return results
// carrying everything the answer-synthesis layer needs for citations. It
// never returns partial rankings — either the full ranked list or an error.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odookb/odookb/internal/store"
)

// DefaultTopK is the number of chunks returned when the caller does not ask
// for a specific count.
const DefaultTopK = 5

// Embedder embeds the query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the vector store the engine needs.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, version int, filter map[string]string, limit int) ([]store.SearchResult, error)
}

// Result is one retrieved chunk with citation information.
type Result struct {
	URL         string
	ChunkNumber int
	Version     int
	Title       string
	Summary     string
	Content     string
	Metadata    map[string]string
	Similarity  float32 // 1 - cosine distance, in [0, 1] for unit vectors
}

// Option configures a retrieval using the functional options pattern.
type Option func(*config)

type config struct {
	topK   int
	filter map[string]string
}

// WithTopK sets the maximum number of results. Default is DefaultTopK.
func WithTopK(k int) Option {
	return func(c *config) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter adds a metadata containment constraint. Multiple calls add
// additional key/value pairs (AND logic).
func WithFilter(key, value string) Option {
	return func(c *config) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// Engine answers retrieval queries. Safe for concurrent use.
type Engine struct {
	embedder Embedder
	searcher Searcher
	logger   *slog.Logger
}

// New creates an Engine.
func New(embedder Embedder, searcher Searcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, searcher: searcher, logger: logger}
}

// Retrieve returns up to topK chunks of the given version ranked by
// similarity to query. An empty result set is not an error: it simply means
// nothing in that version matches.
func (e *Engine) Retrieve(ctx context.Context, query string, version int, opts ...Option) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	cfg := &config{topK: DefaultTopK}
	for _, opt := range opts {
		opt(cfg)
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := e.searcher.Search(ctx, vector, version, cfg.filter, cfg.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{
			URL:         row.URL,
			ChunkNumber: row.ChunkNumber,
			Version:     row.Version,
			Title:       row.Title,
			Summary:     row.Summary,
			Content:     row.Content,
			Metadata:    row.Metadata,
			Similarity:  row.Similarity,
		}
	}

	e.logger.Debug("retrieval complete",
		"version", version, "top_k", cfg.topK, "results", len(results))
	return results, nil
}
