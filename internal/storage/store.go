// Package storage implements the keyed record store backing all persisted
// engine state: the whitelist, tab sessions, window geometry, and the cached
// filter-list source.
//
// Records live in a single SQLite table keyed by (kind, key). Values are
// JSON-serialized. Writes are serialized through one mutex so that two
// debounce ticks can never interleave partial writes for the same record.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
)

// Record kinds.
const (
	KindSite        = "site"
	KindTabSession  = "tab_session"
	KindWindowState = "window_state"
	KindFilterCache = "filter_cache"
)

// WindowStateKey is the key of the single process-wide window record.
const WindowStateKey = "window"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is a keyed record store over SQLite.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (and if needed creates) the record store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	// A single connection keeps SQLite's locking out of the picture; the
	// engine's write volume is tiny.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Put serializes value and writes it under (kind, key), replacing any
// previous record.
func (s *Store) Put(kind, key string, value interface{}) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s/%s: %w", kind, key, err)
	}
	return s.PutRaw(kind, key, data)
}

// PutRaw writes pre-serialized bytes under (kind, key).
func (s *Store) PutRaw(kind, key string, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO records (kind, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		kind, key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write record %s/%s: %w", kind, key, err)
	}
	return nil
}

// Get reads the record under (kind, key) into out.
func (s *Store) Get(kind, key string, out interface{}) error {
	data, err := s.GetRaw(kind, key)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal record %s/%s: %w", kind, key, err)
	}
	return nil
}

// GetRaw reads the raw bytes of the record under (kind, key).
func (s *Store) GetRaw(kind, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT value FROM records WHERE kind = ? AND key = ?`, kind, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s/%s: %w", kind, key, err)
	}
	return data, nil
}

// Delete removes the record under (kind, key). Deleting a missing record is
// not an error.
func (s *Store) Delete(kind, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM records WHERE kind = ? AND key = ?`, kind, key); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", kind, key, err)
	}
	return nil
}

// Keys returns all keys stored under kind.
func (s *Store) Keys(kind string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM records WHERE kind = ? ORDER BY key`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of kind %s: %w", kind, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Each calls fn for every record of the given kind.
func (s *Store) Each(kind string, fn func(key string, data []byte) error) error {
	rows, err := s.db.Query(`SELECT key, value FROM records WHERE kind = ? ORDER BY key`, kind)
	if err != nil {
		return fmt.Errorf("failed to scan records of kind %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k    string
			data []byte
		)
		if err := rows.Scan(&k, &data); err != nil {
			return err
		}
		if err := fn(k, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
