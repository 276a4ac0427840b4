package internal

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notemill/notemill/internal/index"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/report"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

const alphaNote = `---
title: Alpha
tags: [guide]
created: 2024-03-01T10:00:00Z
updated: 2024-03-02T11:00:00Z
---

Start with [Beta](Beta.md).

![diagram](img/pixel.png)
`

const betaNote = `---
title: Beta
tags: [guide, draft]
---

Back to [[Alpha]].
`

const gammaNote = `---
title: Gamma
---

New note.
`

// writeExports lays out a small Markdown tree: two linked notes and one
// embedded binary.
func writeExports(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "exports")
	writeTree(t, dir, map[string]string{
		"Alpha.md":      alphaNote,
		"Beta.md":       betaNote,
		"img/pixel.png": "not-really-a-png",
	})
	return dir
}

func testConfig(src, out string) *Config {
	cfg := NewDefaultConfig()
	cfg.Sources = []SourceConfig{{Format: "mdtree", Path: src}}
	cfg.Output.Dir = out
	return cfg
}

func readVaultFile(t *testing.T, out, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func TestRunConvertsMarkdownTree(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig(writeExports(t), out)

	summary, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Clean() {
		t.Fatalf("run not clean: %d failures", summary.Failures())
	}
	if summary.Counts.Notes != 2 || summary.Counts.NotesWritten != 2 {
		t.Errorf("notes = %d written = %d, want 2/2", summary.Counts.Notes, summary.Counts.NotesWritten)
	}
	if summary.Counts.ResourcesWritten != 1 {
		t.Errorf("resources written = %d, want 1", summary.Counts.ResourcesWritten)
	}
	if summary.Counts.Links != 3 || summary.Counts.LinksResolved != 3 {
		t.Errorf("links = %d resolved = %d, want 3/3", summary.Counts.Links, summary.Counts.LinksResolved)
	}

	alpha := readVaultFile(t, out, "exports/Alpha.md")
	if !strings.Contains(alpha, "title: Alpha") {
		t.Errorf("Alpha.md missing front matter title:\n%s", alpha)
	}
	if !strings.Contains(alpha, "[Beta](Beta.md)") {
		t.Errorf("Alpha.md link not resolved:\n%s", alpha)
	}
	if !strings.Contains(alpha, "![diagram](../_resources/pixel.png)") {
		t.Errorf("Alpha.md embed not resolved:\n%s", alpha)
	}
	beta := readVaultFile(t, out, "exports/Beta.md")
	if !strings.Contains(beta, "[Alpha](Alpha.md)") {
		t.Errorf("Beta.md wikilink not resolved:\n%s", beta)
	}
	if _, err := os.Stat(filepath.Join(out, "_resources", "pixel.png")); err != nil {
		t.Errorf("resource payload missing: %v", err)
	}

	m, err := report.DecodeManifest([]byte(readVaultFile(t, out, report.ManifestPath)))
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.RunID != summary.RunID {
		t.Errorf("manifest run id = %q, want %q", m.RunID, summary.RunID)
	}
	if len(m.Notes) != 2 || len(m.Resources) != 1 {
		t.Errorf("manifest notes = %d resources = %d, want 2/1", len(m.Notes), len(m.Resources))
	}
}

func TestRunBuildsIndex(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig(writeExports(t), out)
	cfg.Index.Enabled = true

	summary, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Clean() {
		t.Fatalf("run not clean: %d failures", summary.Failures())
	}

	db, err := index.Open(index.DefaultPath(out))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer db.Close()

	row, _, err := db.GetNote("exports/Alpha.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if row.Title != "Alpha" {
		t.Errorf("title = %q, want Alpha", row.Title)
	}
	rows, total, err := db.ListNotes(10, 0, "")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Errorf("list = %d of %d, want 2 of 2", len(rows), total)
	}
}

// vaultSnapshot maps every written file to its content, skipping the
// metadata directory whose artifacts carry per-run ids.
func vaultSnapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(root, full)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == layout.MetaDirName {
				return fs.SkipDir
			}
			return nil
		}
		data, rerr := os.ReadFile(full)
		if rerr != nil {
			return rerr
		}
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return files
}

func TestRunDeterministicOutput(t *testing.T) {
	src := writeExports(t)
	out1, out2 := t.TempDir(), t.TempDir()

	if _, err := Run(context.Background(), WithConfig(testConfig(src, out1)), WithLogger(testLogger())); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := Run(context.Background(), WithConfig(testConfig(src, out2)), WithLogger(testLogger())); err != nil {
		t.Fatalf("second run: %v", err)
	}

	first, second := vaultSnapshot(t, out1), vaultSnapshot(t, out2)
	if !maps.Equal(first, second) {
		t.Errorf("vault trees differ: %d vs %d files", len(first), len(second))
	}

	m1, err := report.DecodeManifest([]byte(readVaultFile(t, out1, report.ManifestPath)))
	if err != nil {
		t.Fatalf("decode first manifest: %v", err)
	}
	m2, err := report.DecodeManifest([]byte(readVaultFile(t, out2, report.ManifestPath)))
	if err != nil {
		t.Fatalf("decode second manifest: %v", err)
	}
	if !maps.Equal(m1.Notes, m2.Notes) || !maps.Equal(m1.Notebooks, m2.Notebooks) || !maps.Equal(m1.Resources, m2.Resources) {
		t.Error("manifest path maps differ between runs")
	}
}

func TestRunSlugNaming(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig(writeExports(t), out)
	cfg.Output.Naming = "slug"

	if _, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "exports", "alpha.md")); err != nil {
		t.Errorf("slug-named note missing: %v", err)
	}
}

func TestRunExcludesTaggedNotes(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig(writeExports(t), out)
	cfg.Filter.ExcludeTags = []string{"draft"}

	summary, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Counts.NotesFiltered != 1 {
		t.Errorf("notes filtered = %d, want 1", summary.Counts.NotesFiltered)
	}
	if _, err := os.Stat(filepath.Join(out, "exports", "Beta.md")); !os.IsNotExist(err) {
		t.Errorf("excluded note should not be written: %v", err)
	}
	if len(summary.LinkFailures) != 1 {
		t.Errorf("link failures = %d, want 1", len(summary.LinkFailures))
	}
	alpha := readVaultFile(t, out, "exports/Alpha.md")
	if strings.Contains(alpha, "](Beta.md)") {
		t.Errorf("dangling link should be degraded:\n%s", alpha)
	}
}

func TestRunRefreshesPreviousOutput(t *testing.T) {
	src := writeExports(t)
	out := t.TempDir()
	cfg := testConfig(src, out)

	if _, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger())); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := os.Remove(filepath.Join(src, "Beta.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	summary, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Counts.NotesWritten != 1 {
		t.Errorf("notes written = %d, want 1", summary.Counts.NotesWritten)
	}
	if _, err := os.Stat(filepath.Join(out, "exports", "Beta.md")); !os.IsNotExist(err) {
		t.Error("removed note should not survive a re-run")
	}
}

func TestRunKeepsForeignFiles(t *testing.T) {
	out := t.TempDir()
	writeTree(t, out, map[string]string{"mine.txt": "precious"})
	cfg := testConfig(writeExports(t), out)

	if _, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "mine.txt")); err != nil {
		t.Errorf("foreign file should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "exports", "Alpha.md")); err != nil {
		t.Errorf("conversion output missing: %v", err)
	}
}

func TestRunPartialSourceFailure(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig(writeExports(t), out)
	cfg.Sources = append(cfg.Sources, SourceConfig{Format: "joplin", Path: filepath.Join(t.TempDir(), "missing")})

	summary, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.SourceErrors) != 1 {
		t.Fatalf("source errors = %d, want 1", len(summary.SourceErrors))
	}
	if summary.Clean() {
		t.Error("run with a failed source should not be clean")
	}
	if summary.Counts.NotesWritten != 2 {
		t.Errorf("notes written = %d, want 2", summary.Counts.NotesWritten)
	}
}

func TestRunAllSourcesFailed(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"), t.TempDir())

	_, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
	if !strings.Contains(err.Error(), "sources failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunNoSources(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Dir = t.TempDir()

	_, err := Run(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err == nil || !strings.Contains(err.Error(), "no sources") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if _, err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestRunWatchStopsOnCancel(t *testing.T) {
	cfg := testConfig(writeExports(t), t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := RunWatch(ctx, WithConfig(cfg), WithLogger(testLogger())); err != nil {
		t.Fatalf("RunWatch: %v", err)
	}
}

func TestRunWatchRebuildsOnChange(t *testing.T) {
	src := writeExports(t)
	out := t.TempDir()
	cfg := testConfig(src, out)
	cfg.Watch.Debounce = "50ms"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunWatch(ctx, WithConfig(cfg), WithLogger(testLogger())) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(report.ManifestPath))); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial conversion did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Re-touch the new note until the rebuild picks it up, in case the
	// first write lands before the watcher is registered.
	converted := filepath.Join(out, "exports", "Gamma.md")
	for {
		if _, err := os.Stat(converted); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rebuild did not pick up the new note")
		}
		writeTree(t, src, map[string]string{"Gamma.md": gammaNote})
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunWatch: %v", err)
	}
}

func TestRunServeRequiresManifest(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Dir = t.TempDir()

	err := RunServe(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err == nil || !strings.Contains(err.Error(), "run convert first") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunMCPRequiresManifest(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Dir = t.TempDir()

	err := RunMCP(context.Background(), WithConfig(cfg), WithLogger(testLogger()))
	if err == nil || !strings.Contains(err.Error(), "run convert first") {
		t.Fatalf("unexpected error: %v", err)
	}
}
