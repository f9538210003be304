// Package cache stores compiled images keyed by source content hash.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// HashSource returns the content hash of a source text.
func HashSource(source []byte) [32]byte {
	return sha256.Sum256(source)
}

// Store is a sqlite-backed cache of compiled images. A program whose
// source hash is present can skip compilation and load the stored image.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS images (
	hash       BLOB PRIMARY KEY,
	module     TEXT NOT NULL,
	image      BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Open opens (or creates) a cache database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores an image under the given source hash, replacing any previous
// entry.
func (s *Store) Put(hash [32]byte, module string, image []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO images (hash, module, image, created_at) VALUES (?, ?, ?, ?)`,
		hash[:], module, image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", module, err)
	}
	return nil
}

// Get returns the stored image for a source hash, or (nil, false, nil)
// when no entry exists.
func (s *Store) Get(hash [32]byte) ([]byte, bool, error) {
	var image []byte
	err := s.db.QueryRow(`SELECT image FROM images WHERE hash = ?`, hash[:]).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	return image, true, nil
}

// Prune deletes all but the newest keep entries. It returns the number of
// deleted rows.
func (s *Store) Prune(keep int) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM images WHERE hash NOT IN (
			SELECT hash FROM images ORDER BY created_at DESC LIMIT ?
		)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return int(n), nil
}

// Count returns the number of cached images.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}
