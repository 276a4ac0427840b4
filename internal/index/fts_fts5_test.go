//go:build sqlite_fts5

package index

import (
	"strings"
	"testing"
	"time"
)

func ftsNote(t *testing.T, db *DB, path, title, body string) {
	t.Helper()
	row := NoteRow{Path: path, Title: title, Checksum: path, Tags: []string{}, UpdatedAt: time.Now()}
	if err := db.UpsertNote(row, body, nil); err != nil {
		t.Fatalf("UpsertNote %s: %v", path, err)
	}
}

func TestFTS5_MatchQuery(t *testing.T) {
	db := testDB(t)
	ftsNote(t, db, "Recipes/Bread.md", "Sourdough Bread", "Levain needs twelve hours at room temperature.")
	ftsNote(t, db, "Recipes/Soup.md", "Lentil Soup", "Simmer the lentils until soft.")

	results, err := db.Search("levain", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "Recipes/Bread.md" {
		t.Fatalf("results = %+v, want one hit on Recipes/Bread.md", results)
	}
	if !strings.Contains(results[0].Snippet, "<b>") {
		t.Errorf("snippet not highlighted: %q", results[0].Snippet)
	}
}

func TestFTS5_DiacriticsFold(t *testing.T) {
	db := testDB(t)
	ftsNote(t, db, "Travel/Paris.md", "Paris", "The café near the métro was crowded.")

	results, err := db.Search("cafe", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("accent-folded query found %d results, want 1", len(results))
	}
}

func TestFTS5_RewriteReplacesDocument(t *testing.T) {
	db := testDB(t)
	ftsNote(t, db, "Log.md", "Log", "draft wording")
	ftsNote(t, db, "Log.md", "Log", "final wording")

	if hits, _ := db.Search("draft", 10); len(hits) != 0 {
		t.Error("replaced body still matches")
	}
	hits, err := db.Search("final", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("new body found %d times, want 1", len(hits))
	}
}

func TestFTS5_DeleteDropsDocument(t *testing.T) {
	db := testDB(t)
	ftsNote(t, db, "Old.md", "Old", "ephemeral content")
	if err := db.DeleteNote("Old.md"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if hits, _ := db.Search("ephemeral", 10); len(hits) != 0 {
		t.Error("deleted note still searchable")
	}
}
