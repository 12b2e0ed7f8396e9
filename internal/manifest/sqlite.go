package manifest

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the production Store, backed by a local SQLite database so the
// manifest survives process restarts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the manifest database at dbPath and
// applies pending migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening manifest database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// migrateSchema applies all pending manifest migrations.
func migrateSchema(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying manifest migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, version int, path string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, ingested_at FROM manifest WHERE version = ? AND path = ?`,
		version, path)

	e := Entry{Version: version, Path: path}
	var ingestedAt string
	if err := row.Scan(&e.Hash, &ingestedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("reading manifest entry: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, ingestedAt)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parsing manifest timestamp %q: %w", ingestedAt, err)
	}
	e.IngestedAt = t
	return e, true, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manifest (version, path, hash, ingested_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (version, path) DO UPDATE SET
		   hash = excluded.hash,
		   ingested_at = excluded.ingested_at`,
		e.Version, e.Path, e.Hash, e.IngestedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing manifest entry %s: %w", e.Path, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, version int, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM manifest WHERE version = ? AND path = ?`,
		version, path)
	if err != nil {
		return fmt.Errorf("deleting manifest entry %s: %w", path, err)
	}
	return nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, version int) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, hash, ingested_at FROM manifest WHERE version = ?`,
		version)
	if err != nil {
		return nil, fmt.Errorf("listing manifest entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make(map[string]Entry)
	for rows.Next() {
		e := Entry{Version: version}
		var ingestedAt string
		if err := rows.Scan(&e.Path, &e.Hash, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scanning manifest entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ingestedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing manifest timestamp %q: %w", ingestedAt, err)
		}
		e.IngestedAt = t
		entries[e.Path] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating manifest entries: %w", err)
	}
	return entries, nil
}
