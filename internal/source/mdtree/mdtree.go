// Package mdtree parses a generic Markdown directory: sub-directories
// become notebooks, .md files become notes, and front matter supplies
// titles, tags, and timestamps. Wikilinks and relative links are mapped
// onto canonical URIs; binary files referenced by a note travel as its
// resources. Entity ids are the tree-relative paths prefixed with the
// root directory name, so the manifest stays human-readable.
package mdtree

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/mdnote"
	"github.com/notemill/notemill/internal/source"
)

func init() {
	source.Register("mdtree", func(path string, logger *slog.Logger) source.Parser {
		return &Parser{root: path, logger: logger}
	})
}

// Parser reads one directory tree.
type Parser struct {
	root   string
	logger *slog.Logger
}

type tree struct {
	parser  *Parser
	base    string
	absRoot string

	notebooks map[string]*imf.Notebook // rel dir -> node
	noteIDs   map[string]string        // rel md path -> note id
	stems     map[string]string        // lowercase stem -> rel md path, first wins
	binaries  map[string]fs.FileInfo   // rel binary path -> info
	claimed   map[string]bool          // binaries already attached to a note
}

// Parse walks the tree twice: once to index every file, once to emit
// notes with rewritten links. The two-phase shape lets forward links
// resolve regardless of walk order.
func (p *Parser) Parse(ctx context.Context) (*imf.Forest, error) {
	abs := p.root
	if a, err := filepath.Abs(p.root); err == nil {
		abs = a
	}
	t := &tree{
		parser:    p,
		base:      filepath.Base(filepath.Clean(abs)),
		absRoot:   abs,
		notebooks: make(map[string]*imf.Notebook),
		noteIDs:   make(map[string]string),
		stems:     make(map[string]string),
		binaries:  make(map[string]fs.FileInfo),
		claimed:   make(map[string]bool),
	}

	var mdFiles []string
	err := filepath.WalkDir(abs, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, err := filepath.Rel(abs, full)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()
		if rel != "." && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			t.notebook(rel)
			return nil
		}
		if strings.EqualFold(path.Ext(name), ".md") {
			t.noteIDs[rel] = t.id(rel)
			stem := strings.ToLower(strings.TrimSuffix(name, path.Ext(name)))
			if _, taken := t.stems[stem]; !taken {
				t.stems[stem] = rel
			}
			mdFiles = append(mdFiles, rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		t.binaries[rel] = info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mdtree: walk %s: %w", p.root, err)
	}

	for _, rel := range mdFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.emitNote(rel); err != nil {
			return nil, err
		}
	}

	f := imf.NewForest()
	f.Roots = []*imf.Notebook{t.notebooks["."]}
	return f, nil
}

// id maps a tree-relative path to an entity id.
func (t *tree) id(rel string) string {
	if rel == "." {
		return t.base
	}
	return path.Join(t.base, rel)
}

// notebook returns the node for a relative directory, creating it and its
// ancestors as needed.
func (t *tree) notebook(rel string) *imf.Notebook {
	if nb, ok := t.notebooks[rel]; ok {
		return nb
	}
	title := t.base
	if rel != "." {
		title = path.Base(rel)
	}
	nb := &imf.Notebook{ID: t.id(rel), Title: title}
	t.notebooks[rel] = nb
	if rel != "." {
		parent := t.notebook(path.Dir(rel))
		parent.Children = append(parent.Children, nb)
	}
	return nb
}

func (t *tree) emitNote(rel string) error {
	data, err := os.ReadFile(filepath.Join(t.absRoot, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("mdtree: read %s: %w", rel, err)
	}
	r := mdnote.Parse(data)

	title := r.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	}

	n := &imf.Note{
		ID:      t.noteIDs[rel],
		Title:   title,
		Created: r.Meta.CreatedAt(),
		Updated: r.Meta.UpdatedAt(),
		Tags:    r.Tags,
	}
	if n.Updated.IsZero() {
		if info, err := os.Stat(filepath.Join(t.absRoot, filepath.FromSlash(rel))); err == nil {
			n.Updated = info.ModTime().UTC()
		}
	}

	n.Body = mdnote.RewriteLinks(r.Body, func(l mdnote.Link) (string, bool) {
		return t.rewriteLink(n, rel, l)
	})
	n.Links = imf.ExtractLinks(n.Body)

	t.notebook(path.Dir(rel)).Notes = append(t.notebook(path.Dir(rel)).Notes, n)
	return nil
}

// rewriteLink maps one extracted link to its canonical replacement.
// External targets stay untouched; targets that cannot be located become
// dangling note URIs so the resolver records them.
func (t *tree) rewriteLink(n *imf.Note, fromRel string, l mdnote.Link) (string, bool) {
	if l.Wiki {
		return t.rewriteWikilink(n, l)
	}
	target := l.Target
	if isExternal(target) {
		return "", false
	}
	target = strings.SplitN(target, "#", 2)[0]
	if target == "" {
		return "", false
	}
	if dec, err := url.PathUnescape(target); err == nil {
		target = dec
	}
	joined := path.Clean(path.Join(path.Dir(fromRel), target))
	if strings.HasPrefix(joined, "../") {
		t.parser.logger.Debug("mdtree: link escapes tree",
			slog.String("from", fromRel), slog.String("target", l.Target))
		return "", false
	}
	if id, ok := t.noteIDs[joined]; ok {
		return imf.MarkdownLink(l.Display, imf.NoteURI(id)), true
	}
	if _, ok := t.binaries[joined]; ok {
		uri := imf.ResourceURI(t.claimBinary(n, joined))
		if l.Image {
			return imf.MarkdownImage(l.Display, uri), true
		}
		return imf.MarkdownLink(l.Display, uri), true
	}
	return imf.MarkdownLink(l.Display, imf.NoteURI(t.id(joined))), true
}

// rewriteWikilink targets notes by path or stem, then binaries for embed
// syntax. The leading ! of an embed sits outside the wikilink and lands in
// front of the replacement on its own.
func (t *tree) rewriteWikilink(n *imf.Note, l mdnote.Link) (string, bool) {
	target := strings.SplitN(l.Target, "#", 2)[0]
	if target == "" {
		return "", false
	}
	for _, candidate := range []string{target, target + ".md"} {
		if id, ok := t.noteIDs[candidate]; ok {
			return imf.MarkdownLink(l.Display, imf.NoteURI(id)), true
		}
	}
	stem := strings.ToLower(strings.TrimSuffix(path.Base(target), path.Ext(target)))
	if rel, ok := t.stems[stem]; ok {
		return imf.MarkdownLink(l.Display, imf.NoteURI(t.noteIDs[rel])), true
	}
	if _, ok := t.binaries[target]; ok {
		return imf.MarkdownLink(l.Display, imf.ResourceURI(t.claimBinary(n, target))), true
	}
	return imf.MarkdownLink(l.Display, imf.NoteURI(target)), true
}

// claimBinary attaches the binary to n on first reference and returns its
// id. Later referents share the id; the layout pass deduplicates payloads
// by content hash anyway.
func (t *tree) claimBinary(n *imf.Note, rel string) string {
	id := t.id(rel)
	if t.claimed[rel] {
		return id
	}
	t.claimed[rel] = true

	info := t.binaries[rel]
	full := filepath.Join(t.absRoot, filepath.FromSlash(rel))
	mimeType := mime.TypeByExtension(path.Ext(rel))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	res, err := imf.ResourceFromFile(id, path.Base(rel), mimeType, full, info.Size())
	if err != nil {
		t.parser.logger.Warn("mdtree: resource unreadable",
			slog.String("path", rel), slog.String("error", err.Error()))
		return id
	}
	n.Resources = append(n.Resources, res)
	return id
}

func isExternal(target string) bool {
	return strings.Contains(target, "://") ||
		strings.HasPrefix(target, "mailto:") ||
		strings.HasPrefix(target, "tel:") ||
		strings.HasPrefix(target, "#") ||
		strings.HasPrefix(target, "/")
}
