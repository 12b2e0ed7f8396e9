// Package store is the vector store adapter over the doc_chunks table.
//
// It owns the three operations the rest of the system needs: atomic
// delete-then-insert replacement of a document's chunk set, document
// deletion, and cosine similarity search scoped by version with a JSONB
// containment metadata filter. PostgreSQL with the pgvector extension is the
// backing engine; everything goes through parameterized pgx queries.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Chunk is one row of the doc_chunks table.
type Chunk struct {
	ID          int64
	URL         string
	ChunkNumber int
	Version     int
	Title       string
	Summary     string
	Content     string
	Metadata    map[string]string
	Embedding   []float32
	CreatedAt   time.Time
}

// SearchResult is one ranked row from a similarity search.
type SearchResult struct {
	URL         string
	ChunkNumber int
	Version     int
	Title       string
	Summary     string
	Content     string
	Metadata    map[string]string
	Similarity  float32 // 1 - cosine distance, higher is closer
}

// VersionCount reports how many chunks a version holds.
type VersionCount struct {
	Version int
	Chunks  int64
}

// Store provides chunk persistence and similarity search.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool creates a pgx pool with pgvector types registered on every
// connection.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// ReplaceDocument atomically replaces the chunk set for (url, version): all
// existing rows are deleted and the new set inserted inside one transaction.
// On any failure the transaction rolls back, leaving the previous chunk set
// intact — old and new content are never mixed.
func (s *Store) ReplaceDocument(ctx context.Context, url string, version int, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM doc_chunks WHERE url = $1 AND version = $2`,
		url, version); err != nil {
		return fmt.Errorf("deleting existing chunks for %s: %w", url, err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %d: %w", c.ChunkNumber, err)
		}
		batch.Queue(
			`INSERT INTO doc_chunks (url, chunk_number, version, title, summary, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			url, c.ChunkNumber, version, c.Title, c.Summary, c.Content,
			metadataJSON, pgvector.NewVector(c.Embedding))
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("inserting chunks for %s: %w", url, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing insert batch for %s: %w", url, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement for %s: %w", url, err)
	}

	s.logger.Debug("replaced document chunks",
		"url", url, "version", version, "chunks", len(chunks))
	return nil
}

// DeleteDocument removes every chunk for (url, version).
func (s *Store) DeleteDocument(ctx context.Context, url string, version int) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM doc_chunks WHERE url = $1 AND version = $2`,
		url, version)
	if err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", url, err)
	}

	s.logger.Debug("deleted document chunks",
		"url", url, "version", version, "rows", tag.RowsAffected())
	return nil
}

// Search returns up to limit chunks of the given version ranked by ascending
// cosine distance to queryVector. filter restricts results to chunks whose
// metadata contains every given key/value pair; nil means no filter. Version
// scoping happens in SQL — rows from other versions can never leak into the
// result.
func (s *Store) Search(ctx context.Context, queryVector []float32, version int, filter map[string]string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	if filter == nil {
		filter = map[string]string{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata filter: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT url, chunk_number, version, title, summary, content, metadata, similarity
		 FROM match_doc_chunks($1, $2, $3, $4)`,
		pgvector.NewVector(queryVector), version, limit, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metadataJSON []byte
		if err := rows.Scan(&r.URL, &r.ChunkNumber, &r.Version, &r.Title,
			&r.Summary, &r.Content, &metadataJSON, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", "url", r.URL, "error", err)
			r.Metadata = map[string]string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

// CountChunks returns the number of chunks stored for (url, version).
func (s *Store) CountChunks(ctx context.Context, url string, version int) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM doc_chunks WHERE url = $1 AND version = $2`,
		url, version).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for %s: %w", url, err)
	}
	return count, nil
}

// Versions lists the versions present in the store with chunk counts.
func (s *Store) Versions(ctx context.Context) ([]VersionCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, COUNT(*) FROM doc_chunks GROUP BY version ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var counts []VersionCount
	for rows.Next() {
		var vc VersionCount
		if err := rows.Scan(&vc.Version, &vc.Chunks); err != nil {
			return nil, fmt.Errorf("scanning version count: %w", err)
		}
		counts = append(counts, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version counts: %w", err)
	}
	return counts, nil
}
