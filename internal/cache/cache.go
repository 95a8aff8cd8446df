// Package cache is a content-addressed artifact store. Blobs live on
// disk keyed by their digest, a SQLite table carries the metadata, and
// a singleflight group collapses concurrent fetches of the same key
// into one download.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/registry"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
	digest     TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL,
	size       INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_name ON artifacts(name, version);
`

// Store is an on-disk artifact cache. Safe for concurrent use.
type Store struct {
	root   string
	conn   *sql.DB
	group  singleflight.Group
	logger *slog.Logger
}

// Open creates (if needed) and opens a cache rooted at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: resolve root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir: %w", err)
	}
	conn, err := sql.Open("sqlite3", filepath.Join(abs, "index.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &Store{root: abs, conn: conn, logger: logger}, nil
}

// Close closes the metadata database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// blobPath maps a digest to its on-disk location, sharded by the first
// two hex characters to keep directories small.
func (s *Store) blobPath(dgst digest.Digest) string {
	hex := dgst.Encoded()
	return filepath.Join(s.root, "blobs", dgst.Algorithm().String(), hex[:2], hex)
}

// Fetch returns the artifact's bytes, downloading through dl on a miss.
// When expected is non-empty the downloaded bytes must hash to it;
// otherwise the digest is computed after download. Mismatched bytes are
// never stored. Concurrent calls for the same key share one download.
func (s *Store) Fetch(ctx context.Context, name, version string, expected digest.Digest, dl registry.Downloader, url string) ([]byte, error) {
	if expected != "" {
		if data, err := s.read(expected); err == nil {
			return data, nil
		}
	}

	key := expected.String()
	if expected == "" {
		key = name + "@" + version
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under the flight: a finished sibling may have
		// populated the blob between our miss and now.
		if expected != "" {
			if data, err := s.read(expected); err == nil {
				return data, nil
			}
		}
		return s.download(ctx, name, version, expected, dl, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Store) download(ctx context.Context, name, version string, expected digest.Digest, dl registry.Downloader, url string) ([]byte, error) {
	data, err := dl.Download(ctx, name, version, url)
	if err != nil {
		return nil, err
	}

	// Hash with the expected digest's own algorithm so a sha512
	// expectation is not compared against a sha256 result.
	actual := digest.Canonical.FromBytes(data)
	if expected != "" {
		actual = expected.Algorithm().FromBytes(data)
		if actual != expected {
			return nil, &apperr.ChecksumMismatchError{
				Name:     name,
				Version:  version,
				Expected: expected.String(),
				Actual:   actual.String(),
			}
		}
	}

	if err := s.store(actual, name, version, data); err != nil {
		return nil, err
	}
	s.logger.Debug("cached artifact",
		slog.String("mod", name),
		slog.String("version", version),
		slog.Int("size", len(data)))
	return data, nil
}

// store writes the blob atomically and records its metadata row.
func (s *Store) store(dgst digest.Digest, name, version string, data []byte) error {
	path := s.blobPath(dgst)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pakkeri-tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cache: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	success = true

	_, err = s.conn.Exec(`
		INSERT INTO artifacts (digest, name, version, size, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			name       = excluded.name,
			version    = excluded.version,
			size       = excluded.size,
			fetched_at = excluded.fetched_at
	`, dgst.String(), name, version, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache: record artifact: %w", err)
	}
	return nil
}

// read loads a blob and verifies it still matches its digest. A
// corrupted blob is removed so the next Fetch re-downloads it.
func (s *Store) read(dgst digest.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(dgst))
	if err != nil {
		return nil, err
	}
	if dgst.Algorithm().FromBytes(data) != dgst {
		_ = os.Remove(s.blobPath(dgst))
		return nil, fmt.Errorf("cache: blob %s corrupted", dgst)
	}
	return data, nil
}

// Has reports whether a blob for the digest is present and intact.
func (s *Store) Has(dgst digest.Digest) bool {
	_, err := s.read(dgst)
	return err == nil
}

// Entry is one metadata row of the cache index.
type Entry struct {
	Digest    digest.Digest
	Name      string
	Version   string
	Size      int64
	FetchedAt time.Time
}

// Entries lists the cache index, newest fetch first.
func (s *Store) Entries() ([]Entry, error) {
	rows, err := s.conn.Query(`
		SELECT digest, name, version, size, fetched_at
		FROM artifacts ORDER BY fetched_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var d string
		if err := rows.Scan(&d, &e.Name, &e.Version, &e.Size, &e.FetchedAt); err != nil {
			return nil, err
		}
		e.Digest = digest.Digest(d)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes entries older than the cutoff, blobs included.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	rows, err := s.conn.Query(`SELECT digest FROM artifacts WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cache: prune query: %w", err)
	}
	var stale []digest.Digest
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, digest.Digest(d))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, d := range stale {
		if err := os.Remove(s.blobPath(d)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("cache: remove blob: %w", err)
		}
		if _, err := s.conn.Exec(`DELETE FROM artifacts WHERE digest = ?`, d.String()); err != nil {
			return 0, fmt.Errorf("cache: delete row: %w", err)
		}
	}
	return len(stale), nil
}
