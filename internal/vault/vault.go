// Package vault defines the output file-system abstraction. All paths are
// relative to the vault root; every operation is jailed inside it.
package vault

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notemill/notemill/internal/checksum"
)

// FileInfo describes one Markdown file inside the vault.
type FileInfo struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for vault file operations.
type Provider interface {
	// EnsureDir creates dir (relative to root) and any missing parents.
	EnsureDir(dir string) error
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// WriteFrom atomically streams src to path (relative to root).
	WriteFrom(path string, src io.Reader) error
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// List returns metadata for every .md file under dir.
	List(dir string) ([]FileInfo, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Root returns the absolute vault root.
	Root() string
}

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
}

// NewFS opens a vault rooted at the given directory. The directory must
// already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Create makes the root directory if needed and opens it.
func Create(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("vault: create root: %w", err)
	}
	return NewFS(root)
}

func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("vault: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("vault: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// EnsureDir creates the directory; pre-existing is not an error.
func (f *FS) EnsureDir(dir string) error {
	abs, err := f.safePath(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", dir, err)
	}
	return nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	return f.writeAtomic(path, func(tmp *os.File) error {
		_, err := tmp.Write(content)
		return err
	})
}

// WriteFrom atomically streams src into the vault, for payloads too large
// to hold in memory.
func (f *FS) WriteFrom(path string, src io.Reader) error {
	return f.writeAtomic(path, func(tmp *os.File) error {
		_, err := io.Copy(tmp, src)
		return err
	})
}

func (f *FS) writeAtomic(path string, fill func(tmp *os.File) error) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".notemill-tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("vault: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	success = true
	return nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}
	return data, nil
}

// List walks dir (relative to root) and returns metadata for every .md file.
func (f *FS) List(dir string) ([]FileInfo, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, FileInfo{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	return out, nil
}

// Delete removes a file from the vault.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("vault: delete %s: %w", path, err)
	}
	return nil
}

// Empty reports whether the vault root contains no entries.
func (f *FS) Empty() (bool, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return false, fmt.Errorf("vault: read root: %w", err)
	}
	return len(entries) == 0, nil
}

// Wipe removes every entry under the root, keeping the root itself and any
// top-level entries named in keep. Used when a fresh tree build replaces a
// previous run's output; the metadata directory is kept so that files other
// processes hold open (the search index) survive in place.
func (f *FS) Wipe(keep ...string) error {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return fmt.Errorf("vault: read root: %w", err)
	}
	kept := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		kept[name] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := kept[e.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(f.root, e.Name())); err != nil {
			return fmt.Errorf("vault: wipe %s: %w", e.Name(), err)
		}
	}
	return nil
}
