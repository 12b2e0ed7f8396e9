package store_test

import (
	"context"
	"testing"

	"github.com/odookb/odookb/internal/log"
	"github.com/odookb/odookb/internal/store"
	"github.com/odookb/odookb/internal/testutil"
)

const dimension = 1536

// unitVec returns a 1536-dimensional unit vector along the given axis.
// Distinct axes are orthogonal, so their cosine similarity is exactly 0 and
// ranking assertions stay unambiguous.
func unitVec(axis int) []float32 {
	v := make([]float32, dimension)
	v[axis] = 1
	return v
}

// blend returns a normalized-enough mix leaning toward the given axis.
func blend(mainAxis, otherAxis int) []float32 {
	v := make([]float32, dimension)
	v[mainAxis] = 0.9
	v[otherAxis] = 0.1
	return v
}

func chunkRow(url string, number, version, axis int, meta map[string]string) store.Chunk {
	return store.Chunk{
		URL:         url,
		ChunkNumber: number,
		Version:     version,
		Title:       "Title",
		Summary:     "Summary",
		Content:     "Content of chunk",
		Metadata:    meta,
		Embedding:   unitVec(axis),
	}
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping store integration test in short mode")
	}

	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, log.NewNop())
	ctx := context.Background()

	const (
		salesURL = "https://www.odoo.com/documentation/18.0/applications/sales.html"
		crmURL   = "https://www.odoo.com/documentation/18.0/applications/crm.html"
	)

	t.Run("replace inserts chunk set", func(t *testing.T) {
		chunks := []store.Chunk{
			chunkRow(salesURL, 0, 180, 0, map[string]string{"filename": "sales.md"}),
			chunkRow(salesURL, 1, 180, 1, map[string]string{"filename": "sales.md"}),
			chunkRow(salesURL, 2, 180, 2, map[string]string{"filename": "sales.md"}),
		}
		if err := s.ReplaceDocument(ctx, salesURL, 180, chunks); err != nil {
			t.Fatalf("ReplaceDocument() error = %v", err)
		}

		count, err := s.CountChunks(ctx, salesURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count != 3 {
			t.Errorf("CountChunks() = %d, want 3", count)
		}
	})

	t.Run("replace is wholesale, not append", func(t *testing.T) {
		chunks := []store.Chunk{
			chunkRow(salesURL, 0, 180, 0, map[string]string{"filename": "sales.md"}),
		}
		if err := s.ReplaceDocument(ctx, salesURL, 180, chunks); err != nil {
			t.Fatalf("ReplaceDocument() error = %v", err)
		}

		count, err := s.CountChunks(ctx, salesURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("CountChunks() after shrink = %d, want 1", count)
		}
	})

	t.Run("failed replace rolls back and keeps the old set", func(t *testing.T) {
		// Duplicate (url, chunk_number, version) violates the unique
		// constraint mid-batch; the transaction must leave the previous
		// single-chunk set untouched.
		bad := []store.Chunk{
			chunkRow(salesURL, 0, 180, 0, nil),
			chunkRow(salesURL, 0, 180, 1, nil),
		}
		if err := s.ReplaceDocument(ctx, salesURL, 180, bad); err == nil {
			t.Fatal("ReplaceDocument() with duplicate chunk numbers should fail")
		}

		count, err := s.CountChunks(ctx, salesURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("CountChunks() after failed replace = %d, want the old set (1)", count)
		}
	})

	t.Run("search ranks by similarity", func(t *testing.T) {
		if err := s.ReplaceDocument(ctx, salesURL, 180, []store.Chunk{
			chunkRow(salesURL, 0, 180, 0, map[string]string{"filename": "sales.md"}),
		}); err != nil {
			t.Fatal(err)
		}
		if err := s.ReplaceDocument(ctx, crmURL, 180, []store.Chunk{
			chunkRow(crmURL, 0, 180, 1, map[string]string{"filename": "crm.md"}),
		}); err != nil {
			t.Fatal(err)
		}

		results, err := s.Search(ctx, blend(0, 1), 180, nil, 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search() returned %d results, want 2", len(results))
		}
		if results[0].URL != salesURL {
			t.Errorf("closest result = %s, want %s", results[0].URL, salesURL)
		}
		if results[0].Similarity <= results[1].Similarity {
			t.Errorf("results not ranked: %f then %f",
				results[0].Similarity, results[1].Similarity)
		}
		if results[0].Similarity <= 0 || results[0].Similarity > 1 {
			t.Errorf("similarity out of range: %f", results[0].Similarity)
		}
		if results[0].Metadata["filename"] != "sales.md" {
			t.Errorf("metadata not returned: %+v", results[0].Metadata)
		}
	})

	t.Run("search respects the limit", func(t *testing.T) {
		results, err := s.Search(ctx, blend(0, 1), 180, nil, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Errorf("Search(limit=1) returned %d results", len(results))
		}
	})

	t.Run("search rejects a non-positive limit", func(t *testing.T) {
		if _, err := s.Search(ctx, unitVec(0), 180, nil, 0); err == nil {
			t.Error("Search(limit=0) should fail")
		}
	})

	t.Run("metadata filter narrows results", func(t *testing.T) {
		results, err := s.Search(ctx, blend(0, 1), 180,
			map[string]string{"filename": "crm.md"}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].URL != crmURL {
			t.Errorf("filtered search = %+v, want only the crm document", results)
		}

		// A filter nothing satisfies returns an empty set, not an error.
		results, err = s.Search(ctx, blend(0, 1), 180,
			map[string]string{"filename": "missing.md"}, 10)
		if err != nil {
			t.Fatalf("Search() with unmatched filter error = %v", err)
		}
		if len(results) != 0 {
			t.Errorf("unmatched filter returned %d results", len(results))
		}
	})

	t.Run("versions are isolated", func(t *testing.T) {
		oldURL := "https://www.odoo.com/documentation/17.0/applications/sales.html"
		if err := s.ReplaceDocument(ctx, oldURL, 170, []store.Chunk{
			chunkRow(oldURL, 0, 170, 0, nil),
		}); err != nil {
			t.Fatal(err)
		}

		results, err := s.Search(ctx, unitVec(0), 180, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range results {
			if r.Version != 180 {
				t.Errorf("version 180 search returned a version %d row: %s", r.Version, r.URL)
			}
		}

		counts, err := s.Versions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(counts) != 2 {
			t.Fatalf("Versions() = %+v, want two versions", counts)
		}
		if counts[0].Version != 170 || counts[1].Version != 180 {
			t.Errorf("Versions() order = %+v, want ascending", counts)
		}
	})

	t.Run("delete removes one document only", func(t *testing.T) {
		if err := s.DeleteDocument(ctx, crmURL, 180); err != nil {
			t.Fatalf("DeleteDocument() error = %v", err)
		}

		count, err := s.CountChunks(ctx, crmURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("deleted document still has %d chunks", count)
		}

		count, err = s.CountChunks(ctx, salesURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count == 0 {
			t.Error("unrelated document was deleted")
		}

		// Deleting an absent document is not an error.
		if err := s.DeleteDocument(ctx, crmURL, 180); err != nil {
			t.Errorf("DeleteDocument() of absent document error = %v", err)
		}
	})

	t.Run("empty replace clears the document", func(t *testing.T) {
		if err := s.ReplaceDocument(ctx, salesURL, 180, nil); err != nil {
			t.Fatalf("ReplaceDocument() with no chunks error = %v", err)
		}
		count, err := s.CountChunks(ctx, salesURL, 180)
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("CountChunks() = %d after empty replace", count)
		}
	})
}
