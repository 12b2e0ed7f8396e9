package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/odookb/odookb/internal/chunk"
	"github.com/odookb/odookb/internal/log"
	"github.com/odookb/odookb/internal/manifest"
	"github.com/odookb/odookb/internal/source"
	"github.com/odookb/odookb/internal/store"
)

// fakeScanner serves a fixed document set.
type fakeScanner struct {
	docs []source.Document
	err  error
}

func (f *fakeScanner) Scan(version int) ([]source.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []source.Document
	for _, d := range f.docs {
		if d.Version == version {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeEmbedder returns a deterministic vector per text and counts calls.
// Inputs containing failMarker fail the whole batch.
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	texts      int
	failMarker string
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts += len(texts)
	f.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failMarker != "" && strings.Contains(text, f.failMarker) {
			return nil, errors.New("simulated embedding failure")
		}
		vectors[i] = []float32{float32(len(text)), 1, 2}
	}
	return vectors, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeChunkStore keeps chunk sets in memory keyed by (url, version).
type fakeChunkStore struct {
	mu         sync.Mutex
	data       map[string][]store.Chunk
	replaceErr map[string]error // by url
	replaces   int
	deletes    int
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{data: make(map[string][]store.Chunk)}
}

func (f *fakeChunkStore) key(url string, version int) string {
	return fmt.Sprintf("%s|%d", url, version)
}

func (f *fakeChunkStore) ReplaceDocument(ctx context.Context, url string, version int, chunks []store.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.replaceErr[url]; err != nil {
		return err
	}
	f.replaces++
	f.data[f.key(url, version)] = chunks
	return nil
}

func (f *fakeChunkStore) DeleteDocument(ctx context.Context, url string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.data, f.key(url, version))
	return nil
}

func (f *fakeChunkStore) chunksFor(url string, version int) []store.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[f.key(url, version)]
}

func (f *fakeChunkStore) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaces
}

func testDoc(path, content string) source.Document {
	return source.Document{
		Version: 180,
		Path:    path,
		URL:     source.URLForPath(path, 180),
		Content: content,
		Hash:    source.HashContent([]byte(content)),
	}
}

type fixture struct {
	scanner  *fakeScanner
	embedder *fakeEmbedder
	chunks   *fakeChunkStore
	manifest *manifest.Memory
	coord    *Coordinator
}

func newFixture(t *testing.T, docs ...source.Document) *fixture {
	t.Helper()

	f := &fixture{
		scanner:  &fakeScanner{docs: docs},
		embedder: &fakeEmbedder{},
		chunks:   newFakeChunkStore(),
		manifest: manifest.NewMemory(),
	}
	f.coord = New(f.scanner, chunk.New(chunk.Options{}), f.embedder, f.chunks, f.manifest,
		Options{Workers: 2, LockDir: t.TempDir()}, log.NewNop())
	return f
}

func TestIngestVersion_FirstRun(t *testing.T) {
	docA := testDoc("a.md", "# A\n\nFirst document body.")
	docB := testDoc("b.md", "# B\n\nSecond document body.")
	f := newFixture(t, docA, docB)

	report, err := f.coord.IngestVersion(context.Background(), 180)
	if err != nil {
		t.Fatalf("IngestVersion() error = %v", err)
	}

	if report.Succeeded != 2 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = %+v, want 2 succeeded", report)
	}
	if report.ChunksWritten < 2 {
		t.Errorf("ChunksWritten = %d, want at least 2", report.ChunksWritten)
	}
	if report.Err() != nil {
		t.Errorf("Err() = %v for a clean run", report.Err())
	}

	for _, d := range []source.Document{docA, docB} {
		if got := f.chunks.chunksFor(d.URL, 180); len(got) == 0 {
			t.Errorf("no chunks stored for %s", d.Path)
		}
		entry, ok, err := f.manifest.Get(context.Background(), 180, d.Path)
		if err != nil || !ok {
			t.Fatalf("manifest entry for %s missing (ok=%v, err=%v)", d.Path, ok, err)
		}
		if entry.Hash != d.Hash {
			t.Errorf("manifest hash for %s = %q, want %q", d.Path, entry.Hash, d.Hash)
		}
	}
}

func TestIngestVersion_Idempotent(t *testing.T) {
	f := newFixture(t,
		testDoc("a.md", "# A\n\nStable content."),
		testDoc("b.md", "# B\n\nAlso stable."))

	if _, err := f.coord.IngestVersion(context.Background(), 180); err != nil {
		t.Fatalf("first run: %v", err)
	}
	embedCalls := f.embedder.callCount()
	replaceCalls := f.chunks.replaceCount()

	report, err := f.coord.IngestVersion(context.Background(), 180)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.Skipped != 2 || report.Succeeded != 0 {
		t.Errorf("second run report = %+v, want everything skipped", report)
	}
	if got := f.embedder.callCount(); got != embedCalls {
		t.Errorf("second run made %d extra embedding calls", got-embedCalls)
	}
	if got := f.chunks.replaceCount(); got != replaceCalls {
		t.Errorf("second run made %d extra store writes", got-replaceCalls)
	}
}

func TestIngestVersion_ModifiedDocumentReplaced(t *testing.T) {
	docA := testDoc("a.md", "# A\n\nOriginal body.")
	docB := testDoc("b.md", "# B\n\nUntouched body.")
	f := newFixture(t, docA, docB)

	ctx := context.Background()
	if _, err := f.coord.IngestVersion(ctx, 180); err != nil {
		t.Fatalf("first run: %v", err)
	}

	edited := testDoc("a.md", "# A\n\nRewritten body with new facts.")
	f.scanner.docs = []source.Document{edited, docB}

	report, err := f.coord.IngestVersion(ctx, 180)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.Succeeded != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 re-ingested and 1 skipped", report)
	}

	// Replaced wholesale, not appended.
	got := f.chunks.chunksFor(edited.URL, 180)
	if len(got) != 1 {
		t.Fatalf("stored %d chunks after edit, want 1", len(got))
	}
	if !strings.Contains(got[0].Content, "Rewritten body") {
		t.Errorf("stale content survived the replace: %q", got[0].Content)
	}

	entry, _, err := f.manifest.Get(ctx, 180, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Hash != edited.Hash {
		t.Errorf("manifest hash not updated: %q", entry.Hash)
	}
}

// A single-heading document yields one chunk; adding a second heading and
// re-ingesting replaces that chunk set with two chunks, never appending.
func TestIngestVersion_GrowingDocumentReplacedWholesale(t *testing.T) {
	doc := testDoc("install.md", "# Install\n\nRun `pip install odoo`.")
	f := newFixture(t, doc)

	ctx := context.Background()
	if _, err := f.coord.IngestVersion(ctx, 180); err != nil {
		t.Fatalf("first run: %v", err)
	}

	got := f.chunks.chunksFor(doc.URL, 180)
	if len(got) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(got))
	}
	if got[0].ChunkNumber != 0 || got[0].Title != "Install" {
		t.Errorf("chunk = number %d title %q, want number 0 title \"Install\"",
			got[0].ChunkNumber, got[0].Title)
	}

	edited := testDoc("install.md",
		"# Install\n\nRun `pip install odoo`.\n\n# Troubleshooting\n\nCheck the logs.")
	f.scanner.docs = []source.Document{edited}

	if _, err := f.coord.IngestVersion(ctx, 180); err != nil {
		t.Fatalf("second run: %v", err)
	}

	got = f.chunks.chunksFor(edited.URL, 180)
	if len(got) != 2 {
		t.Fatalf("stored %d chunks after edit, want 2", len(got))
	}
	for i, c := range got {
		if c.ChunkNumber != i {
			t.Errorf("chunk %d has chunk_number %d", i, c.ChunkNumber)
		}
	}
	if got[1].Title != "Troubleshooting" {
		t.Errorf("second chunk title = %q, want \"Troubleshooting\"", got[1].Title)
	}
}

func TestIngestVersion_DeletedDocumentPurged(t *testing.T) {
	docA := testDoc("a.md", "# A\n\nBody.")
	docB := testDoc("b.md", "# B\n\nBody.")
	f := newFixture(t, docA, docB)

	ctx := context.Background()
	if _, err := f.coord.IngestVersion(ctx, 180); err != nil {
		t.Fatalf("first run: %v", err)
	}

	f.scanner.docs = []source.Document{docB}

	report, err := f.coord.IngestVersion(ctx, 180)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if got := f.chunks.chunksFor(docA.URL, 180); len(got) != 0 {
		t.Errorf("chunks for the deleted document survived: %d", len(got))
	}
	if _, ok, _ := f.manifest.Get(ctx, 180, "a.md"); ok {
		t.Error("manifest entry for the deleted document survived")
	}
	if got := f.chunks.chunksFor(docB.URL, 180); len(got) == 0 {
		t.Error("unrelated document was purged")
	}
}

func TestIngestVersion_EmbedFailureSkipsManifest(t *testing.T) {
	bad := testDoc("bad.md", "# Bad\n\nBODY WITH EMBEDFAIL MARKER.")
	good := testDoc("good.md", "# Good\n\nHealthy body.")
	f := newFixture(t, bad, good)
	f.embedder.failMarker = "EMBEDFAIL"

	ctx := context.Background()
	report, err := f.coord.IngestVersion(ctx, 180)
	if err != nil {
		t.Fatalf("IngestVersion() error = %v", err)
	}

	if report.Failed != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v, want 1 failed and 1 succeeded", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != StageEmbed {
		t.Errorf("Failures = %+v, want one embed-stage failure", report.Failures)
	}
	if !errors.Is(report.Err(), ErrPartialFailure) {
		t.Errorf("Err() = %v, want ErrPartialFailure", report.Err())
	}

	// The failed document must look untouched: no chunks, no manifest entry,
	// so the next run retries it.
	if got := f.chunks.chunksFor(bad.URL, 180); len(got) != 0 {
		t.Errorf("failed document left %d chunks in the store", len(got))
	}
	if _, ok, _ := f.manifest.Get(ctx, 180, "bad.md"); ok {
		t.Error("failed document was manifested")
	}

	// Recovery: once embedding works, only the failed document is redone.
	f.embedder.failMarker = ""
	report, err = f.coord.IngestVersion(ctx, 180)
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if report.Succeeded != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("recovery report = %+v, want the failed document retried", report)
	}
}

func TestIngestVersion_StoreFailureSkipsManifest(t *testing.T) {
	docA := testDoc("a.md", "# A\n\nBody.")
	f := newFixture(t, docA)
	f.chunks.replaceErr = map[string]error{docA.URL: errors.New("connection refused")}

	ctx := context.Background()
	report, err := f.coord.IngestVersion(ctx, 180)
	if err != nil {
		t.Fatalf("IngestVersion() error = %v", err)
	}

	if report.Failed != 1 {
		t.Fatalf("report = %+v, want 1 failure", report)
	}
	if report.Failures[0].Stage != StageStore {
		t.Errorf("Stage = %q, want %q", report.Failures[0].Stage, StageStore)
	}
	if _, ok, _ := f.manifest.Get(ctx, 180, "a.md"); ok {
		t.Error("manifest updated although the store write failed")
	}
}

func TestIngestVersion_ChunkFailure(t *testing.T) {
	invalid := testDoc("broken.md", "prefix \xff\xfe suffix")
	f := newFixture(t, invalid)

	report, err := f.coord.IngestVersion(context.Background(), 180)
	if err != nil {
		t.Fatalf("IngestVersion() error = %v", err)
	}
	if report.Failed != 1 || report.Failures[0].Stage != StageChunk {
		t.Errorf("report = %+v, want one chunk-stage failure", report)
	}
}

func TestIngestVersion_ScanError(t *testing.T) {
	f := newFixture(t)
	f.scanner.err = errors.New("tree unreadable")

	if _, err := f.coord.IngestVersion(context.Background(), 180); err == nil {
		t.Fatal("IngestVersion() should fail when the scan fails")
	}
}

func TestIngestVersion_RunLock(t *testing.T) {
	f := newFixture(t, testDoc("a.md", "# A\n\nBody."))

	held := flock.New(filepath.Join(f.coord.lockDir, "ingest-180.lock"))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("taking the lock externally: locked=%v err=%v", locked, err)
	}
	defer func() { _ = held.Unlock() }()

	_, err = f.coord.IngestVersion(context.Background(), 180)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("IngestVersion() error = %v, want ErrRunInProgress", err)
	}

	// A different version is unaffected.
	if _, err := f.coord.IngestVersion(context.Background(), 170); err != nil {
		t.Errorf("other version blocked by the lock: %v", err)
	}
}

func TestIngestVersion_ChunkMetadata(t *testing.T) {
	d := testDoc("applications/sales.md", "# Sales\n\nSelling things.")
	f := newFixture(t, d)

	if _, err := f.coord.IngestVersion(context.Background(), 180); err != nil {
		t.Fatal(err)
	}

	got := f.chunks.chunksFor(d.URL, 180)
	if len(got) == 0 {
		t.Fatal("no chunks stored")
	}

	meta := got[0].Metadata
	want := map[string]string{
		"source":      "markdown_file",
		"source_path": "applications/sales.md",
		"filename":    "sales.md",
		"version_str": "18.0",
	}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("metadata[%q] = %q, want %q", k, meta[k], v)
		}
	}
	if meta["header_path"] != "[#] Sales" {
		t.Errorf("metadata[header_path] = %q", meta["header_path"])
	}
	if meta["processed_at"] == "" || meta["chunk_size"] == "" {
		t.Errorf("metadata missing processing fields: %+v", meta)
	}
}
