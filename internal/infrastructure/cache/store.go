// Package cache implements the embedded message cache on SQLite. One store
// file serves the whole application; rows are keyed by session so sessions
// can be purged independently.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is stored in PRAGMA user_version for forward migration.
const schemaVersion = 1

// Store wraps the SQLite message cache.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache database under dataDir. WAL mode keeps
// readers concurrent with the single batch writer of each session.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "krust-cache.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported %d", version, schemaVersion)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kr_message (
		session_id TEXT NOT NULL,
		partition INTEGER NOT NULL,
		offset INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		key BLOB,
		value BLOB,
		headers TEXT,
		decode_error TEXT,
		PRIMARY KEY (session_id, partition, offset)
	);
	CREATE INDEX IF NOT EXISTS idx_kr_message_ts ON kr_message(session_id, timestamp, partition, offset);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}
