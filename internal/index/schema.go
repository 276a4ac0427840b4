// Package index provides a SQLite-backed search index over a converted
// vault, with optional FTS5 full-text search behind the sqlite_fts5 build
// tag.
package index

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/notemill/notemill/internal/layout"
)

// One statement per entry so a failure names the table it came from.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notes (
		path       TEXT PRIMARY KEY,
		source_id  TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		checksum   TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT '[]',
		body       TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_source_id ON notes(source_id)`,
	`CREATE TABLE IF NOT EXISTS links (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		type   TEXT NOT NULL DEFAULT 'inline',
		UNIQUE(source, target)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_source ON links(source)`,
	`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target)`,
}

// connParams enables WAL so serve mode can read while watch mode rebuilds.
const connParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DefaultPath returns the index location under a vault root.
func DefaultPath(vaultRoot string) string {
	return filepath.Join(vaultRoot, layout.MetaDirName, "index.db")
}

// DB is a handle on the index database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and brings the schema up to
// date.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+connParams)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("index: migrate: %w", err)
		}
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: init fts: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the database handle.
func (db *DB) Close() error {
	return db.conn.Close()
}
