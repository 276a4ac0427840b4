//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

// The contentless-ish companion table notes_fts mirrors every note row.
// remove_diacritics 2 folds accents on both sides of a match, so "cafe"
// finds "café".
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	path UNINDEXED,
	title,
	body,
	tags,
	tokenize='unicode61 remove_diacritics 2'
);
`)
	return err
}

func ftsUpsert(tx *sql.Tx, path, title, body, tags string) error {
	if _, err := tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO notes_fts (path, title, body, tags) VALUES (?, ?, ?, ?)`,
		path, title, body, tags)
	return err
}

func ftsDelete(tx *sql.Tx, path string) {
	tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path) //nolint:errcheck
}

// Search runs an FTS5 MATCH query ranked by relevance. Snippets highlight
// hits in the body column.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT path, title, snippet(notes_fts, 2, '<b>', '</b>', '...', 64)
		 FROM notes_fts WHERE notes_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: fts search: %w", err)
	}
	return collectResults(rows)
}
