package index

import (
	"database/sql"
	"fmt"
	"time"
)

// NoteRow is one indexed note.
type NoteRow struct {
	Path      string    `json:"path"`
	SourceID  string    `json:"source_id,omitempty"`
	Title     string    `json:"title"`
	Checksum  string    `json:"-"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Querier is the read side of the index, consumed by the preview and MCP
// servers.
type Querier interface {
	GetNote(path string) (*NoteRow, string, error)
	ListNotes(limit, offset int, tag string) ([]NoteRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	PathBySourceID(sourceID string) (string, error)
	Backlinks(path string) ([]string, error)
}

var _ Querier = (*DB)(nil)

// collectResults drains a (path, title, snippet) result set. Both Search
// implementations share it.
func collectResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("index: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
