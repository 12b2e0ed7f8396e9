// Package ingest orchestrates incremental ingestion: detect what changed,
// re-chunk and re-embed only that, and replace affected chunk sets
// atomically, keeping the manifest consistent with what the store holds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odookb/odookb/internal/chunk"
	"github.com/odookb/odookb/internal/manifest"
	"github.com/odookb/odookb/internal/source"
	"github.com/odookb/odookb/internal/store"
)

// ErrRunInProgress is returned when another coordinator already holds the
// run lock for the same version.
var ErrRunInProgress = errors.New("ingestion already in progress for this version")

// DefaultWorkers bounds per-document parallelism. Embedding latency
// dominates, so a small pool keeps the API quota comfortable.
const DefaultWorkers = 4

// Scanner provides the current source documents for a version.
type Scanner interface {
	Scan(version int) ([]source.Document, error)
}

// Splitter turns a document into chunks.
type Splitter interface {
	Split(url, text string) ([]chunk.Chunk, error)
}

// Embedder produces one vector per input text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore is the slice of the vector store the coordinator needs.
type ChunkStore interface {
	ReplaceDocument(ctx context.Context, url string, version int, chunks []store.Chunk) error
	DeleteDocument(ctx context.Context, url string, version int) error
}

// Options configures a Coordinator.
type Options struct {
	// Workers bounds concurrent per-document pipelines. Default: DefaultWorkers.
	Workers int

	// LockDir holds the per-version run lock files. Default: os.TempDir().
	LockDir string
}

// Coordinator runs the detect → chunk → embed → store pipeline for one
// version at a time. Documents are independent units: each one's
// delete-then-insert is scoped to its own (url, version) key, so units run
// in parallel, and one document's failure never blocks the others.
type Coordinator struct {
	scanner  Scanner
	splitter Splitter
	embedder Embedder
	chunks   ChunkStore
	manifest manifest.Store
	logger   *slog.Logger
	workers  int
	lockDir  string
}

// New creates a Coordinator.
func New(scanner Scanner, splitter Splitter, embedder Embedder, chunks ChunkStore, mf manifest.Store, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.LockDir == "" {
		opts.LockDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		scanner:  scanner,
		splitter: splitter,
		embedder: embedder,
		chunks:   chunks,
		manifest: mf,
		logger:   logger,
		workers:  opts.Workers,
		lockDir:  opts.LockDir,
	}
}

// IngestVersion runs one full ingestion pass for a version. The returned
// Report is non-nil whenever the run started, even if ctx was canceled part
// way through; per-document failures are recorded in it rather than aborting
// the run. A second coordinator invoking IngestVersion for the same version
// concurrently gets ErrRunInProgress.
func (c *Coordinator) IngestVersion(ctx context.Context, version int) (*Report, error) {
	unlock, err := c.acquireRunLock(version)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &Report{
		RunID:     uuid.New(),
		Version:   version,
		StartedAt: time.Now(),
	}
	logger := c.logger.With("run_id", report.RunID, "version", source.VersionString(version))

	docs, err := c.scanner.Scan(version)
	if err != nil {
		return nil, fmt.Errorf("scanning source tree: %w", err)
	}

	entries, err := c.manifest.List(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("listing manifest: %w", err)
	}

	changes := Detect(docs, entries)
	report.Skipped = changes.Unchanged
	logger.Info("change detection complete",
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"deleted", len(changes.Deleted),
		"unchanged", changes.Unchanged)

	c.purgeDeleted(ctx, changes.Deleted, report, logger)

	work := make([]source.Document, 0, len(changes.Added)+len(changes.Modified))
	work = append(work, changes.Added...)
	work = append(work, changes.Modified...)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, doc := range work {
		g.Go(func() error {
			// Abort between document units on cancellation; completed
			// units are already manifested, the rest retry next run.
			if err := gctx.Err(); err != nil {
				return err
			}

			written, failure := c.processDocument(gctx, doc)

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				report.Failed++
				report.Failures = append(report.Failures, *failure)
				logger.Error("document failed",
					"path", failure.Path, "stage", failure.Stage, "error", failure.Err)
				return nil
			}
			report.Succeeded++
			report.ChunksWritten += written
			return nil
		})
	}

	waitErr := g.Wait()
	report.FinishedAt = time.Now()

	logger.Info("ingestion run finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"deleted", report.Deleted,
		"chunks_written", report.ChunksWritten,
		"duration", report.Duration())

	if waitErr != nil {
		return report, fmt.Errorf("ingestion aborted: %w", waitErr)
	}
	return report, nil
}

// purgeDeleted removes chunks and manifest entries for documents no longer
// present in the source tree.
func (c *Coordinator) purgeDeleted(ctx context.Context, deleted []manifest.Entry, report *Report, logger *slog.Logger) {
	for _, entry := range deleted {
		if ctx.Err() != nil {
			return
		}

		url := source.URLForPath(entry.Path, entry.Version)
		if err := c.chunks.DeleteDocument(ctx, url, entry.Version); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{
				Path: entry.Path, URL: url, Stage: StagePurge, Err: err,
			})
			logger.Error("purge failed", "path", entry.Path, "error", err)
			continue
		}
		if err := c.manifest.Delete(ctx, entry.Version, entry.Path); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{
				Path: entry.Path, URL: url, Stage: StageManifest, Err: err,
			})
			logger.Error("manifest delete failed", "path", entry.Path, "error", err)
			continue
		}
		report.Deleted++
	}
}

// processDocument runs one document through chunk → embed → store →
// manifest. The manifest is updated only after the store transaction
// commits: a crash or failure anywhere earlier leaves the old chunk set and
// manifest entry intact, so the document is re-detected as modified on the
// next run.
func (c *Coordinator) processDocument(ctx context.Context, doc source.Document) (chunksWritten int, failure *Failure) {
	pieces, err := c.splitter.Split(doc.URL, doc.Content)
	if err != nil {
		return 0, &Failure{Path: doc.Path, URL: doc.URL, Stage: StageChunk, Err: err}
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, &Failure{Path: doc.Path, URL: doc.URL, Stage: StageEmbed, Err: err}
	}
	if len(vectors) != len(pieces) {
		return 0, &Failure{
			Path: doc.Path, URL: doc.URL, Stage: StageEmbed,
			Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(pieces)),
		}
	}

	rows := make([]store.Chunk, len(pieces))
	for i, p := range pieces {
		rows[i] = store.Chunk{
			URL:         doc.URL,
			ChunkNumber: p.Number,
			Version:     doc.Version,
			Title:       p.Title,
			Summary:     p.Summary,
			Content:     p.Content,
			Metadata:    chunkMetadata(doc, p),
			Embedding:   vectors[i],
		}
	}

	if err := c.chunks.ReplaceDocument(ctx, doc.URL, doc.Version, rows); err != nil {
		return 0, &Failure{Path: doc.Path, URL: doc.URL, Stage: StageStore, Err: err}
	}

	err = c.manifest.Put(ctx, manifest.Entry{
		Version:    doc.Version,
		Path:       doc.Path,
		Hash:       doc.Hash,
		IngestedAt: time.Now().UTC(),
	})
	if err != nil {
		// The store holds the new chunk set but the manifest still has the
		// old hash, so the next run redundantly (and safely) re-ingests.
		return 0, &Failure{Path: doc.Path, URL: doc.URL, Stage: StageManifest, Err: err}
	}

	return len(rows), nil
}

// chunkMetadata builds the stored metadata mapping for one chunk.
func chunkMetadata(doc source.Document, p chunk.Chunk) map[string]string {
	m := map[string]string{
		"source":       "markdown_file",
		"source_path":  doc.Path,
		"filename":     filepath.Base(doc.Path),
		"version_str":  source.VersionString(doc.Version),
		"chunk_size":   strconv.Itoa(len(p.Content)),
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if p.HeaderPath != "" {
		m["header_path"] = p.HeaderPath
	}
	return m
}

// acquireRunLock takes the per-version advisory file lock that prevents two
// coordinators from racing on the same (url, version) delete-then-insert.
func (c *Coordinator) acquireRunLock(version int) (func(), error) {
	if err := os.MkdirAll(c.lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := filepath.Join(c.lockDir, fmt.Sprintf("ingest-%d.lock", version))
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held)", ErrRunInProgress, path)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			c.logger.Warn("releasing run lock", "path", path, "error", err)
		}
	}, nil
}
