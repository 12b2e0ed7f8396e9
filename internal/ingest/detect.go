package ingest

import (
	"sort"

	"github.com/odookb/odookb/internal/manifest"
	"github.com/odookb/odookb/internal/source"
)

// Changes classifies one version's source tree against the manifest.
// The three sets are disjoint; unchanged documents are only counted, never
// re-chunked, re-embedded, or written.
type Changes struct {
	Added     []source.Document // present now, no manifest entry
	Modified  []source.Document // present now, manifest hash differs
	Deleted   []manifest.Entry  // manifest entry exists, file gone
	Unchanged int
}

// Total returns the number of documents requiring work.
func (c Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Detect compares the current documents against the persisted manifest.
// Comparison is by content hash only — mtimes are ignored so checkouts that
// reset timestamps do not force re-ingestion.
func Detect(docs []source.Document, entries map[string]manifest.Entry) Changes {
	var changes Changes

	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		seen[doc.Path] = struct{}{}

		entry, ok := entries[doc.Path]
		switch {
		case !ok:
			changes.Added = append(changes.Added, doc)
		case entry.Hash != doc.Hash:
			changes.Modified = append(changes.Modified, doc)
		default:
			changes.Unchanged++
		}
	}

	for path, entry := range entries {
		if _, ok := seen[path]; !ok {
			changes.Deleted = append(changes.Deleted, entry)
		}
	}
	sort.Slice(changes.Deleted, func(i, j int) bool {
		return changes.Deleted[i].Path < changes.Deleted[j].Path
	})

	return changes
}
