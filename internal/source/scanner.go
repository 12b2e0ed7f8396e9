package source

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scanner reads the markdown tree for one or more documentation versions.
// It only needs read access; how the tree was populated (the RST→Markdown
// converter) is not its concern.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// NewScanner creates a Scanner rooted at the given directory.
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{root: root, logger: logger}
}

// versionDir returns the directory holding one version's markdown files.
func (s *Scanner) versionDir(version int) string {
	return filepath.Join(s.root, "versions", VersionString(version))
}

// Versions lists the release lines present under <root>/versions.
func (s *Scanner) Versions() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "versions"))
	if err != nil {
		return nil, fmt.Errorf("reading versions directory: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := ParseVersion(e.Name())
		if err != nil {
			s.logger.Warn("skipping unrecognized version directory", "name", e.Name())
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Scan walks one version's tree and returns every markdown document with its
// content hash. Results are sorted by path for deterministic processing
// order. A missing version directory is an error: ingesting a version that
// was never converted is a configuration mistake, not an empty corpus.
func (s *Scanner) Scan(version int) ([]Document, error) {
	dir := s.versionDir(version)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("version %s source tree: %w", VersionString(version), err)
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip VCS and hidden directories.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		docs = append(docs, Document{
			Version: version,
			Path:    rel,
			URL:     URLForPath(rel, version),
			Content: string(content),
			Hash:    HashContent(content),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning version %s: %w", VersionString(version), err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	s.logger.Debug("scanned source tree",
		"version", VersionString(version),
		"documents", len(docs))
	return docs, nil
}
