package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/notemill/notemill/internal/apperr"
)

// UpsertNote writes a note row, its FTS document, and its outgoing links in
// one transaction.
func (db *DB) UpsertNote(n NoteRow, body string, links []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("index: marshal tags: %w", err)
	}
	if n.Tags == nil {
		tags = []byte("[]")
	}

	_, err = tx.Exec(`
		INSERT INTO notes (path, source_id, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source_id = excluded.source_id,
			title = excluded.title,
			checksum = excluded.checksum,
			tags = excluded.tags,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, n.Path, n.SourceID, n.Title, n.Checksum, string(tags), body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	if err := ftsUpsert(tx, n.Path, n.Title, body, string(tags)); err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, n.Path); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, type) VALUES (?, ?, 'inline')`)
		if err != nil {
			return fmt.Errorf("index: prepare links: %w", err)
		}
		defer stmt.Close()
		for _, target := range links {
			if _, err := stmt.Exec(n.Path, target); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// DeleteNote removes a note, its FTS document, and its outgoing links.
func (db *DB) DeleteNote(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, path); err != nil {
		return fmt.Errorf("index: delete links: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit delete: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a path, or "" when the path is
// not indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var sum string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return sum, nil
}

// AllChecksums returns path -> checksum for every indexed note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: list checksums: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]string)
	for rows.Next() {
		var path, sum string
		if err := rows.Scan(&path, &sum); err != nil {
			return nil, fmt.Errorf("index: scan checksum: %w", err)
		}
		sums[path] = sum
	}
	return sums, rows.Err()
}

// GetNote returns one indexed note and its body.
func (db *DB) GetNote(path string) (*NoteRow, string, error) {
	var (
		n    NoteRow
		tags string
		body string
	)
	err := db.conn.QueryRow(`
		SELECT path, source_id, title, checksum, tags, body, updated_at
		FROM notes WHERE path = ?
	`, path).Scan(&n.Path, &n.SourceID, &n.Title, &n.Checksum, &tags, &body, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("index: get note: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		n.Tags = nil
	}
	return &n, body, nil
}

// ListNotes returns a page of notes ordered by path, plus the total count
// matching the filter. An empty tag matches everything.
func (db *DB) ListNotes(limit, offset int, tag string) ([]NoteRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if tag != "" {
		where = `WHERE tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM notes `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, source_id, title, checksum, tags, updated_at
		FROM notes `+where+` ORDER BY path LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var notes []NoteRow
	for rows.Next() {
		var (
			n    NoteRow
			tags string
		)
		if err := rows.Scan(&n.Path, &n.SourceID, &n.Title, &n.Checksum, &tags, &n.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("index: scan note: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
			n.Tags = nil
		}
		notes = append(notes, n)
	}
	return notes, total, rows.Err()
}

// PathBySourceID maps a source-native note ID back to its vault path.
func (db *DB) PathBySourceID(sourceID string) (string, error) {
	var path string
	err := db.conn.QueryRow(`SELECT path FROM notes WHERE source_id = ? ORDER BY path LIMIT 1`, sourceID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: source id %s: %w", sourceID, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("index: path by source id: %w", err)
	}
	return path, nil
}

// Backlinks returns the paths of notes linking to the given path.
func (db *DB) Backlinks(path string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM links WHERE target = ? ORDER BY source`, path)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("index: scan backlink: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
