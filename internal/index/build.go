package index

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/notemill/notemill/internal/checksum"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/mdnote"
	"github.com/notemill/notemill/internal/vault"
)

// Build populates the index from a finished conversion. Every planned note
// is read back from the vault and indexed under its source-native id, so
// lookups by source id work without a front-matter round trip. Rows left
// over from a previous run whose paths are no longer planned are removed:
// each run is a fresh tree.
func Build(db *DB, store vault.Provider, plan *layout.Plan, logger *slog.Logger) error {
	ids := make([]string, 0, len(plan.Notes))
	for id := range plan.Notes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	known, err := db.AllChecksums()
	if err != nil {
		return err
	}

	planned := make(map[string]struct{}, len(plan.Notes))
	var indexed int
	for _, id := range ids {
		notePath := plan.Notes[id]
		planned[notePath] = struct{}{}
		data, err := store.Read(notePath)
		if err != nil {
			logger.Warn("index: build read failed", "path", notePath, "error", err)
			continue
		}
		if err := indexNote(db, notePath, id, data, time.Time{}); err != nil {
			return fmt.Errorf("index: build %s: %w", notePath, err)
		}
		indexed++
	}

	var stale []string
	for p := range known {
		if _, ok := planned[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	for _, p := range stale {
		if err := db.DeleteNote(p); err != nil {
			return err
		}
	}

	logger.Info("index: build complete", "notes", indexed, "removed", len(stale))
	return nil
}

// indexNote parses one written note and upserts its row, FTS document, and
// outgoing links. An empty sourceID falls back to the note's front matter.
func indexNote(db *DB, notePath, sourceID string, data []byte, modTime time.Time) error {
	r := mdnote.Parse(data)
	if sourceID == "" {
		sourceID = r.Meta.SourceID
	}
	title := r.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(notePath), ".md")
	}
	updated := r.Meta.UpdatedAt()
	if updated.IsZero() {
		updated = modTime
	}
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	row := NoteRow{
		Path:      notePath,
		SourceID:  sourceID,
		Title:     title,
		Checksum:  checksum.Sum(data),
		Tags:      r.Tags,
		UpdatedAt: updated,
	}
	return db.UpsertNote(row, strings.TrimSpace(r.Body), linkTargets(notePath, r.Links))
}

// linkTargets maps a note's relative Markdown links onto vault paths for
// the links table. Wikilinks never appear in written notes; external URLs
// and resource references are skipped.
func linkTargets(notePath string, links []mdnote.Link) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range links {
		if l.Wiki || l.Image {
			continue
		}
		target, _, _ := strings.Cut(l.Target, "#")
		if target == "" || strings.Contains(target, "://") || strings.HasPrefix(target, "/") {
			continue
		}
		if dec, err := url.PathUnescape(target); err == nil {
			target = dec
		}
		if !strings.EqualFold(path.Ext(target), ".md") {
			continue
		}
		full := path.Clean(path.Join(path.Dir(notePath), target))
		if strings.HasPrefix(full, "../") {
			continue
		}
		if _, dup := seen[full]; dup {
			continue
		}
		seen[full] = struct{}{}
		out = append(out, full)
	}
	return out
}
