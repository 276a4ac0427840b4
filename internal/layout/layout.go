// Package layout is the first writer pass: it assigns every surviving
// notebook and note a unique vault-relative path and places deduplicated
// resource payloads, all without touching the filesystem. The second pass
// materializes the resulting Plan.
package layout

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-slug"

	"github.com/notemill/notemill/internal/imf"
)

// Naming selects how titles become path components.
type Naming string

const (
	NamingPreserve Naming = "preserve"
	NamingSlug     Naming = "slug"
)

const (
	// Placeholder replaces titles that sanitize to nothing.
	Placeholder = "Untitled"

	// DefaultResourceDir holds deduplicated resource payloads at the vault root.
	DefaultResourceDir = "_resources"

	// MetaDirName holds run artifacts (manifest, index). The name is
	// reserved at the vault root; no notebook can claim it.
	MetaDirName = "_notemill"

	maxPathWindows = 260
	maxPathPosix   = 4096
)

var errNoChecksum = errors.New("resource has no content checksum")

// Options configure a layout pass. Zero values pick the platform by build
// target, preserve-style naming, and the default resource directory.
type Options struct {
	Platform    Platform
	Naming      Naming
	ResourceDir string
}

func (o Options) normalize() (Options, error) {
	if o.Platform == "" {
		p, err := ResolvePlatform("auto")
		if err != nil {
			return o, err
		}
		o.Platform = p
	}
	switch o.Platform {
	case PlatformPosix, PlatformWindows:
	default:
		return o, fmt.Errorf("layout: unknown platform %q", o.Platform)
	}
	switch o.Naming {
	case "":
		o.Naming = NamingPreserve
	case NamingPreserve, NamingSlug:
	default:
		return o, fmt.Errorf("layout: unknown naming style %q", o.Naming)
	}
	if o.ResourceDir == "" {
		o.ResourceDir = DefaultResourceDir
	}
	return o, nil
}

// PathError records a notebook, note, or resource that could not receive a
// legal path. It is reported, not fatal.
type PathError struct {
	ID    string
	Title string
	Err   error
}

func (e PathError) Error() string {
	return fmt.Sprintf("layout: %q (%s): %v", e.Title, e.ID, e.Err)
}

func (e PathError) Unwrap() error { return e.Err }

// Plan is the complete path assignment for one run. All paths are
// slash-separated and vault-relative.
type Plan struct {
	Notebooks      map[string]string // notebook id -> directory
	Notes          map[string]string // note id -> markdown file
	Resources      map[string]string // content hash -> payload file
	ResourceHashes map[string]string // resource id -> content hash
	Errors         []PathError
}

func newPlan() *Plan {
	return &Plan{
		Notebooks:      map[string]string{},
		Notes:          map[string]string{},
		Resources:      map[string]string{},
		ResourceHashes: map[string]string{},
	}
}

func (p *Plan) NotebookPath(id string) (string, bool) {
	dir, ok := p.Notebooks[id]
	return dir, ok
}

func (p *Plan) NotePath(id string) (string, bool) {
	fp, ok := p.Notes[id]
	return fp, ok
}

// ResourcePath resolves a resource id through its content hash, so every
// reference to identical payload bytes lands on the single written file.
func (p *Plan) ResourcePath(id string) (string, bool) {
	hash, ok := p.ResourceHashes[id]
	if !ok {
		return "", false
	}
	return p.ResourcePathByHash(hash)
}

func (p *Plan) ResourcePathByHash(hash string) (string, bool) {
	fp, ok := p.Resources[hash]
	return fp, ok
}

// Determine walks the forest in its current child order and assigns every
// notebook a directory and every note a file path, breaking sibling name
// collisions with " (N)" suffixes in traversal order. Sort the forest
// first; Determine does not reorder anything.
func Determine(forest *imf.Forest, opts Options) (*Plan, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	w := &walker{opts: opts, plan: newPlan()}

	rootUsed := map[string]struct{}{
		collisionKey(opts.ResourceDir, opts.Platform): {},
		collisionKey(MetaDirName, opts.Platform):      {},
	}
	for _, nb := range forest.Roots {
		w.notebook(nb, "", rootUsed)
	}
	w.placeResources()

	return w.plan, nil
}

type walker struct {
	opts      Options
	plan      *Plan
	resources []*imf.Resource
}

func (w *walker) notebook(nb *imf.Notebook, parentDir string, used map[string]struct{}) {
	name := probe(used, w.component(nb.Title), "", w.opts.Platform)
	dir := path.Join(parentDir, name)
	if err := checkPathLength(dir, w.opts.Platform); err != nil {
		w.plan.Errors = append(w.plan.Errors, PathError{
			ID:    nb.ID,
			Title: nb.Title,
			Err:   fmt.Errorf("%w; subtree skipped", err),
		})
		return
	}
	w.plan.Notebooks[nb.ID] = dir

	childUsed := map[string]struct{}{}
	for _, child := range nb.Children {
		w.notebook(child, dir, childUsed)
	}
	for _, note := range nb.Notes {
		w.note(note, dir, childUsed)
	}
}

func (w *walker) note(n *imf.Note, parentDir string, used map[string]struct{}) {
	name := probe(used, w.component(n.Title), ".md", w.opts.Platform)
	fp := path.Join(parentDir, name)
	if err := checkPathLength(fp, w.opts.Platform); err != nil {
		w.plan.Errors = append(w.plan.Errors, PathError{ID: n.ID, Title: n.Title, Err: err})
		return
	}
	w.plan.Notes[n.ID] = fp
	w.resources = append(w.resources, n.Resources...)
}

// placeResources assigns one file per distinct content hash, first writer
// wins in traversal order. Resources of skipped notes were never collected,
// so they are not planned.
func (w *walker) placeResources() {
	used := map[string]struct{}{}
	for _, res := range w.resources {
		if res.Checksum == "" {
			w.plan.Errors = append(w.plan.Errors, PathError{ID: res.ID, Title: res.Filename, Err: errNoChecksum})
			continue
		}
		if _, seen := w.plan.ResourceHashes[res.ID]; seen {
			continue
		}
		w.plan.ResourceHashes[res.ID] = res.Checksum
		if _, done := w.plan.Resources[res.Checksum]; done {
			continue
		}

		stem, ext := w.resourceName(res)
		name := probe(used, stem, ext, w.opts.Platform)
		fp := path.Join(w.opts.ResourceDir, name)
		if err := checkPathLength(fp, w.opts.Platform); err != nil {
			w.plan.Errors = append(w.plan.Errors, PathError{ID: res.ID, Title: res.Filename, Err: err})
			delete(w.plan.ResourceHashes, res.ID)
			continue
		}
		w.plan.Resources[res.Checksum] = fp
	}
}

func (w *walker) component(title string) string {
	var name string
	switch w.opts.Naming {
	case NamingSlug:
		if normalized, err := slug.Normalize(title); err == nil {
			name = normalized
		}
		name = sanitizeComponent(name, w.opts.Platform)
	default:
		name = sanitizeComponent(title, w.opts.Platform)
	}
	if name == "" {
		return Placeholder
	}
	return name
}

func (w *walker) resourceName(res *imf.Resource) (stem, ext string) {
	stem, ext = splitExt(res.Filename)
	switch w.opts.Naming {
	case NamingSlug:
		if normalized, err := slug.Normalize(stem); err == nil && normalized != "" {
			stem = normalized
		} else {
			stem = sanitizeComponent(stem, w.opts.Platform)
		}
		ext = strings.ToLower(sanitizeComponent(ext, w.opts.Platform))
	default:
		stem = sanitizeComponent(stem, w.opts.Platform)
		ext = sanitizeComponent(ext, w.opts.Platform)
	}
	if stem == "" {
		stem = res.Checksum[:12]
		if ext == "" {
			ext = extensionForMIME(res.MIME)
		}
	}
	return stem, ext
}

// probe finds the first free name under one parent directory, trying the
// bare name, then "name (1)", "name (2)", and so on. Suffixes sit before
// the extension and the counter resets per directory.
func probe(used map[string]struct{}, stem, ext string, platform Platform) string {
	name := fitStem(stem, "", ext) + ext
	key := collisionKey(name, platform)
	if _, taken := used[key]; !taken {
		used[key] = struct{}{}
		return name
	}
	for i := 1; ; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		name = fitStem(stem, suffix, ext) + suffix + ext
		key = collisionKey(name, platform)
		if _, taken := used[key]; !taken {
			used[key] = struct{}{}
			return name
		}
	}
}

func checkPathLength(p string, platform Platform) error {
	if platform == PlatformWindows {
		if utf8.RuneCountInString(p) > maxPathWindows {
			return fmt.Errorf("path exceeds %d characters", maxPathWindows)
		}
		return nil
	}
	if len(p) > maxPathPosix {
		return fmt.Errorf("path exceeds %d bytes", maxPathPosix)
	}
	return nil
}
