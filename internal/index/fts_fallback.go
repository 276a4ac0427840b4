//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

// Without the sqlite_fts5 build tag the index falls back to LIKE matching
// over the notes table. Slower and unranked, but needs no FTS5 support in
// the linked SQLite.

func initFTS(conn *sql.DB) error { return nil }

func ftsUpsert(tx *sql.Tx, path, title, body, tags string) error { return nil }

func ftsDelete(tx *sql.Tx, path string) {}

// Search matches the query as a substring of title, body, or tags, ordered
// by path for stable output.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := db.conn.Query(
		`SELECT path, title, substr(body, 1, 200)
		 FROM notes WHERE title LIKE ? OR body LIKE ? OR tags LIKE ?
		 ORDER BY path LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("index: like search: %w", err)
	}
	return collectResults(rows)
}
