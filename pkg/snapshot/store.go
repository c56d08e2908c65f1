// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// CatalogFile is the name of the catalog database inside a snapshot directory.
const CatalogFile = "catalog.db"

// Snapshot is one stored snapshot file.
type Snapshot struct {
	Name        Name
	Path        string
	ContentHash string
	Size        int64
	// Version is the full upstream commit id when known, otherwise the
	// short id from the file name.
	Version    string
	IngestedAt time.Time
}

// Date is the snapshot date carried by the file name.
func (s Snapshot) Date() time.Time { return s.Name.Date }

// Store is a directory of snapshot files indexed by a SQLite catalog.
//
// Files are the source of truth. The catalog records content hashes so
// that repeated ingestion runs need not rehash every file, and enforces
// that no two snapshots share the same content.
type Store struct {
	dir string
	db  *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	file_name      TEXT PRIMARY KEY,
	table_name     TEXT NOT NULL,
	snapshot_date  TEXT NOT NULL,
	version        TEXT NOT NULL,
	content_hash   TEXT NOT NULL UNIQUE,
	format         TEXT NOT NULL,
	size           INTEGER NOT NULL,
	ingested_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_date ON snapshots(table_name, snapshot_date);
`

// Open opens (creating if needed) the snapshot directory and its catalog.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: open catalog: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		catalogSchema,
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
	}
	return &Store{dir: dir, db: db}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the path a snapshot with the given name is stored at.
func (s *Store) Path(n Name) string { return filepath.Join(s.dir, n.String()) }

// Close closes the catalog.
func (s *Store) Close() error { return s.db.Close() }

// ErrDuplicateContent is matched by *DuplicateError.
var ErrDuplicateContent = errors.New("snapshot content already stored")

// DuplicateError is returned by Register when another snapshot already has
// the same content hash.
type DuplicateError struct {
	File     string
	Existing string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s has the same content as %s", e.File, e.Existing)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicateContent }

// Register records a snapshot in the catalog. Registering the same file
// name again updates its entry.
func (s *Store) Register(ctx context.Context, snap Snapshot) error {
	if snap.IngestedAt.IsZero() {
		snap.IngestedAt = time.Now().UTC()
	}
	version := snap.Version
	if version == "" {
		version = snap.Name.Version
	}

	var other string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_name FROM snapshots WHERE content_hash = ? AND file_name <> ?`,
		snap.ContentHash, snap.Name.String()).Scan(&other)
	switch {
	case err == nil:
		return &DuplicateError{File: snap.Name.String(), Existing: other}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("snapshot store: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (file_name, table_name, snapshot_date, version, content_hash, format, size, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			version = excluded.version,
			content_hash = excluded.content_hash,
			size = excluded.size,
			ingested_at = excluded.ingested_at`,
		snap.Name.String(), snap.Name.Table, snap.Name.Date.Format(time.DateOnly), version,
		snap.ContentHash, string(snap.Name.Format), snap.Size, snap.IngestedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("snapshot store: register %s: %w", snap.Name, err)
	}
	return nil
}

// List returns the cataloged snapshots of table ordered by date then file
// name. An empty table lists every table.
func (s *Store) List(ctx context.Context, table string) ([]Snapshot, error) {
	q := `SELECT file_name, version, content_hash, size, ingested_at FROM snapshots`
	var args []any
	if table != "" {
		q += ` WHERE table_name = ?`
		args = append(args, table)
	}
	q += ` ORDER BY snapshot_date, file_name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			file, ingested string
			snap           Snapshot
		)
		if err := rows.Scan(&file, &snap.Version, &snap.ContentHash, &snap.Size, &ingested); err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		n, err := ParseName(file)
		if err != nil {
			return nil, err
		}
		snap.Name = n
		snap.Path = filepath.Join(s.dir, file)
		snap.IngestedAt, _ = time.Parse(time.RFC3339, ingested)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Hashes returns the set of content hashes of cataloged snapshots of table.
func (s *Store) Hashes(ctx context.Context, table string) (map[string]string, error) {
	snaps, err := s.List(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(snaps))
	for _, snap := range snaps {
		out[snap.ContentHash] = snap.Name.String()
	}
	return out, nil
}

// SyncResult reports what Sync found on disk.
type SyncResult struct {
	// Added lists files registered by this sync.
	Added []string
	// Removed lists catalog entries whose file no longer exists.
	Removed []string
	// Duplicates maps a file to the cataloged file with identical content.
	Duplicates map[string]string
}

// Sync reconciles the catalog with the snapshot files of table on disk.
// Files unknown to the catalog, or whose size changed, are hashed and
// registered. Entries whose file disappeared are dropped. Files whose
// content duplicates another snapshot are reported, not registered.
func (s *Store) Sync(ctx context.Context, table string) (SyncResult, error) {
	res := SyncResult{Duplicates: map[string]string{}}

	known, err := s.List(ctx, table)
	if err != nil {
		return res, err
	}
	bySize := make(map[string]int64, len(known))
	for _, snap := range known {
		bySize[snap.Name.String()] = snap.Size
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return res, fmt.Errorf("snapshot store: %w", err)
	}
	onDisk := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() || FormatOf(e.Name()) == "" {
			continue
		}
		n, err := ParseName(e.Name())
		if err != nil || (table != "" && n.Table != table) {
			continue
		}
		onDisk[e.Name()] = true
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, file := range known {
		name := file.Name.String()
		if !onDisk[name] {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE file_name = ?`, name); err != nil {
				return res, fmt.Errorf("snapshot store: %w", err)
			}
			res.Removed = append(res.Removed, name)
		}
	}

	for _, file := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path := filepath.Join(s.dir, file)
		fi, err := os.Stat(path)
		if err != nil {
			return res, err
		}
		if size, ok := bySize[file]; ok && size == fi.Size() {
			continue
		}
		sum, size, err := HashFile(path)
		if err != nil {
			return res, fmt.Errorf("snapshot store: hash %s: %w", file, err)
		}
		n, _ := ParseName(file)
		err = s.Register(ctx, Snapshot{Name: n, Path: path, ContentHash: sum, Size: size})
		var dup *DuplicateError
		if errors.As(err, &dup) {
			res.Duplicates[file] = dup.Existing
			continue
		}
		if err != nil {
			return res, err
		}
		res.Added = append(res.Added, file)
	}
	return res, nil
}
