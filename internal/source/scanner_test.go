package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/odookb/odookb/internal/log"
)

// writeTree creates a markdown file under <root>/versions/<version>, making
// parent directories as needed.
func writeTree(t *testing.T, root, version, rel, content string) {
	t.Helper()
	path := filepath.Join(root, "versions", version, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestScannerVersions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "16.0", "index.md", "old")
	writeTree(t, root, "18.0", "index.md", "new")
	// Unrecognized directories are skipped, not fatal.
	if err := os.MkdirAll(filepath.Join(root, "versions", "drafts"), 0o750); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(root, log.NewNop())
	versions, err := s.Versions()
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}

	want := []int{160, 180}
	if len(versions) != len(want) {
		t.Fatalf("Versions() = %v, want %v", versions, want)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("Versions()[%d] = %d, want %d", i, versions[i], want[i])
		}
	}
}

func TestScannerScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "18.0", "applications/sales.md", "# Sales\n\nContent.")
	writeTree(t, root, "18.0", "administration/install.md", "# Install\n\nSteps.")
	writeTree(t, root, "18.0", "notes.txt", "not markdown")
	writeTree(t, root, "18.0", ".git/config.md", "hidden")
	writeTree(t, root, "17.0", "applications/sales.md", "older content")

	s := NewScanner(root, log.NewNop())
	docs, err := s.Scan(180)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("Scan() returned %d documents, want 2: %+v", len(docs), docs)
	}

	// Sorted by path.
	if docs[0].Path != "administration/install.md" || docs[1].Path != "applications/sales.md" {
		t.Errorf("unexpected paths: %q, %q", docs[0].Path, docs[1].Path)
	}

	sales := docs[1]
	if sales.Version != 180 {
		t.Errorf("Version = %d, want 180", sales.Version)
	}
	if sales.URL != "https://www.odoo.com/documentation/18.0/applications/sales.html" {
		t.Errorf("URL = %q", sales.URL)
	}
	if sales.Content != "# Sales\n\nContent." {
		t.Errorf("Content = %q", sales.Content)
	}
	if sales.Hash != HashContent([]byte(sales.Content)) {
		t.Error("Hash does not match content")
	}
}

func TestScannerScanMissingVersion(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "18.0", "index.md", "content")

	s := NewScanner(root, log.NewNop())
	if _, err := s.Scan(170); err == nil {
		t.Fatal("Scan() of a missing version should fail")
	}
}

func TestScannerScanDeterministic(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"c.md", "a.md", "b/d.md"} {
		writeTree(t, root, "18.0", rel, "content of "+rel)
	}

	s := NewScanner(root, log.NewNop())
	first, err := s.Scan(180)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Scan(180)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("scan sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Path != second[i].Path || first[i].Hash != second[i].Hash {
			t.Errorf("scan order or identity changed at %d: %q vs %q", i, first[i].Path, second[i].Path)
		}
	}
}
