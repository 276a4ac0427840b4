package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	v := tempVault(t)
	content := []byte("# Hello\nWorld\n")
	if err := v.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := v.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	v := tempVault(t)
	if err := v.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := v.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFrom(t *testing.T) {
	v := tempVault(t)
	payload := bytes.Repeat([]byte("chunk"), 1000)
	if err := v.WriteFrom("_resources/big.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	got, err := v.Read("_resources/big.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("streamed content mismatch: %d bytes", len(got))
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	v := tempVault(t)
	for i := 0; i < 2; i++ {
		if err := v.EnsureDir("Notebook/Sub"); err != nil {
			t.Fatalf("EnsureDir (%d): %v", i, err)
		}
	}
	info, err := os.Stat(filepath.Join(v.Root(), "Notebook", "Sub"))
	if err != nil || !info.IsDir() {
		t.Errorf("expected directory, got %v, %v", info, err)
	}
}

func TestTraversalRejected(t *testing.T) {
	v := tempVault(t)
	if err := v.Write("../outside.md", []byte("nope")); err == nil {
		t.Error("expected traversal rejection")
	}
	if _, err := v.Read("a/../../etc/passwd"); err == nil {
		t.Error("expected traversal rejection on read")
	}
	if err := v.Write("/abs.md", []byte("nope")); err == nil {
		t.Error("expected absolute path rejection")
	}
}

func TestList(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("a.md", []byte("a"))
	_ = v.Write("sub/b.md", []byte("b"))
	_ = v.Write("_resources/img.png", []byte{1, 2, 3})

	infos, err := v.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed %d files, want 2 markdown files", len(infos))
	}
	paths := map[string]bool{}
	for _, fi := range infos {
		paths[fi.Path] = true
		if fi.Checksum == "" {
			t.Errorf("missing checksum for %s", fi.Path)
		}
	}
	if !paths["a.md"] || !paths["sub/b.md"] {
		t.Errorf("paths = %v", paths)
	}
}

func TestDelete(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("del.md", []byte("bye"))
	if err := v.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestEmptyAndWipe(t *testing.T) {
	v := tempVault(t)
	empty, err := v.Empty()
	if err != nil || !empty {
		t.Fatalf("fresh vault: empty = %v, %v", empty, err)
	}

	_ = v.Write("a.md", []byte("a"))
	_ = v.Write("sub/deep/b.md", []byte("b"))
	empty, _ = v.Empty()
	if empty {
		t.Fatal("vault with files reported empty")
	}

	if err := v.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	empty, _ = v.Empty()
	if !empty {
		t.Error("wiped vault should be empty")
	}
	if _, err := os.Stat(v.Root()); err != nil {
		t.Errorf("root must survive a wipe: %v", err)
	}
}

func TestWipeKeepsNamedEntries(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("a.md", []byte("a"))
	_ = v.Write("_meta/index.db", []byte("db"))

	if err := v.Wipe("_meta"); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if _, err := v.Read("_meta/index.db"); err != nil {
		t.Errorf("kept entry was removed: %v", err)
	}
	if _, err := v.Read("a.md"); err == nil {
		t.Error("unkept entry survived the wipe")
	}
}

func TestCreateMakesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "new", "vault")
	v, err := Create(dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.Write("x.md", []byte("x")); err != nil {
		t.Errorf("Write into created vault: %v", err)
	}
}

func TestNewFSRejectsMissingRoot(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("x.md", []byte("x"))
	entries, err := os.ReadDir(v.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "x.md" {
			t.Errorf("unexpected entry %q", e.Name())
		}
	}
}
