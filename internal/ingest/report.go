package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPartialFailure marks a run in which at least one document failed. The
// run itself completed — successful documents are manifested — but the
// failed ones will be retried on the next invocation.
var ErrPartialFailure = errors.New("ingestion completed with failures")

// Stage identifies where in the pipeline a document failed.
type Stage string

const (
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
	StageManifest Stage = "manifest"
	StagePurge    Stage = "purge"
)

// Failure records one document's failure. The manifest entry for the
// document is left untouched, so the next run re-detects it.
type Failure struct {
	Path  string
	URL   string
	Stage Stage
	Err   error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.Path, f.Stage, f.Err)
}

// Report summarizes one ingestion run for a single version.
type Report struct {
	RunID      uuid.UUID
	Version    int
	StartedAt  time.Time
	FinishedAt time.Time

	Succeeded     int // documents chunked, embedded, stored and manifested
	Failed        int
	Skipped       int // unchanged documents, no work performed
	Deleted       int // documents purged from store and manifest
	ChunksWritten int

	Failures []Failure
}

// Err returns ErrPartialFailure (wrapped with counts) when any document
// failed, nil for a clean run. Callers use it to drive a non-zero exit
// status so schedulers can alert.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d documents failed",
		ErrPartialFailure, r.Failed, r.Succeeded+r.Failed)
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
