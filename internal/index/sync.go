package index

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/vault"
)

// Sync reconciles the index with the vault on disk: changed notes are
// re-indexed, unchanged notes are skipped by checksum, and rows whose files
// are gone are deleted. Files under the metadata directory are ignored.
func Sync(db *DB, store vault.Provider, logger *slog.Logger) error {
	files, err := store.List("")
	if err != nil {
		return fmt.Errorf("index: list vault: %w", err)
	}
	known, err := db.AllChecksums()
	if err != nil {
		return err
	}

	onDisk := make(map[string]struct{}, len(files))
	var updated int
	for _, f := range files {
		if strings.HasPrefix(f.Path, layout.MetaDirName+"/") {
			continue
		}
		onDisk[f.Path] = struct{}{}
		if known[f.Path] == f.Checksum {
			continue
		}
		data, err := store.Read(f.Path)
		if err != nil {
			logger.Warn("index: sync read failed", "path", f.Path, "error", err)
			continue
		}
		if err := indexNote(db, f.Path, "", data, f.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("index: sync %s: %w", f.Path, err)
		}
		updated++
	}

	var stale []string
	for p := range known {
		if _, ok := onDisk[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	for _, p := range stale {
		if err := db.DeleteNote(p); err != nil {
			return err
		}
	}

	logger.Info("index: sync complete", "updated", updated, "removed", len(stale))
	return nil
}
