// Package manifest persists the last-ingested state of each source document.
//
// The manifest is the memory between ingestion runs: (version, path) → the
// content hash that was last successfully written to the vector store. The
// change detector compares it against the current source tree, so the
// coordinator must only update an entry after the store transaction for that
// document has committed.
//
// Store is an interface so the coordinator can be tested against the
// in-memory implementation; production uses the SQLite-backed one, which
// survives process restarts.
package manifest

import (
	"context"
	"sync"
	"time"
)

// Entry records the last successfully ingested state of one document.
type Entry struct {
	Version    int
	Path       string
	Hash       string // hex sha256 of the content as it was ingested
	IngestedAt time.Time
}

// Store is the persistence contract consumed by the ingestion coordinator.
type Store interface {
	// Get returns the entry for (version, path); ok is false when absent.
	Get(ctx context.Context, version int, path string) (Entry, bool, error)

	// Put inserts or replaces the entry for (e.Version, e.Path).
	Put(ctx context.Context, e Entry) error

	// Delete removes the entry for (version, path). Deleting an absent
	// entry is not an error.
	Delete(ctx context.Context, version int, path string) error

	// List returns all entries for a version, keyed by path.
	List(ctx context.Context, version int) (map[string]Entry, error)
}

// Memory is an in-memory Store for tests. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[int]map[string]Entry
}

// NewMemory creates an empty in-memory manifest.
func NewMemory() *Memory {
	return &Memory{entries: make(map[int]map[string]Entry)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, version int, path string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[version][path]
	return e, ok, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[e.Version] == nil {
		m.entries[e.Version] = make(map[string]Entry)
	}
	m.entries[e.Version][e.Path] = e
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, version int, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries[version], path)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, version int) (map[string]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Entry, len(m.entries[version]))
	for path, e := range m.entries[version] {
		out[path] = e
	}
	return out, nil
}
