// Package joplin parses a Joplin RAW export directory into the entity
// forest. Every item lives in its own <id>.md file: title, a blank line,
// the body (notes only), then a trailing key: value metadata block whose
// last key is type_. Resource payloads sit under .resources/.
package joplin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/source"
)

// Joplin item types, from the type_ metadata key.
const (
	typeNote     = "1"
	typeFolder   = "2"
	typeResource = "4"
	typeTag      = "5"
	typeNoteTag  = "6"
)

var (
	metaLineRe = regexp.MustCompile(`^([a-z_][a-z0-9_]*): ?(.*)$`)
	bodyLinkRe = regexp.MustCompile(`\(:/([0-9a-fA-F]{32})[^)]*\)`)
)

func init() {
	source.Register("joplin", func(path string, logger *slog.Logger) source.Parser {
		return &Parser{dir: path, logger: logger}
	})
}

// Parser reads one RAW export directory.
type Parser struct {
	dir    string
	logger *slog.Logger
}

type item struct {
	id    string
	title string
	body  string
	meta  map[string]string
}

// Parse reads every item file, wires folders and notes into a forest,
// normalizes body links to canonical URIs, and attaches tag names and
// resource payloads. Unparsable items are skipped with a warning.
func (p *Parser) Parse(ctx context.Context) (*imf.Forest, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("joplin: read export dir: %w", err)
	}

	var (
		folders   = make(map[string]*item)
		notes     = make(map[string]*item)
		resources = make(map[string]*item)
		tagNames  = make(map[string]string)
		noteTags  [][2]string // note id, tag id
		noteOrder []string
		dirOrder  []string
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("joplin: read %s: %w", e.Name(), err)
		}
		it, err := parseItem(data)
		if err != nil {
			p.logger.Warn("joplin: skipping unparsable item",
				slog.String("file", e.Name()), slog.String("error", err.Error()))
			continue
		}
		if it.id == "" {
			it.id = strings.TrimSuffix(e.Name(), ".md")
		}
		switch it.meta["type_"] {
		case typeNote:
			if _, dup := notes[it.id]; dup {
				p.logger.Warn("joplin: duplicate note id", slog.String("id", it.id))
				continue
			}
			notes[it.id] = it
			noteOrder = append(noteOrder, it.id)
		case typeFolder:
			folders[it.id] = it
			dirOrder = append(dirOrder, it.id)
		case typeResource:
			resources[it.id] = it
		case typeTag:
			tagNames[it.id] = it.title
		case typeNoteTag:
			noteTags = append(noteTags, [2]string{it.meta["note_id"], it.meta["tag_id"]})
		}
	}

	b := &builder{
		parser:    p,
		folders:   folders,
		notes:     notes,
		resources: resources,
		notebooks: make(map[string]*imf.Notebook),
		imfNotes:  make(map[string]*imf.Note),
	}
	f := b.build(dirOrder, noteOrder)
	b.applyTags(tagNames, noteTags)
	b.attachResources(noteOrder)
	return f, nil
}

type builder struct {
	parser    *Parser
	folders   map[string]*item
	notes     map[string]*item
	resources map[string]*item

	notebooks map[string]*imf.Notebook
	imfNotes  map[string]*imf.Note
	roots     []*imf.Notebook
	unfiled   *imf.Notebook
}

func (b *builder) build(dirOrder, noteOrder []string) *imf.Forest {
	for _, id := range dirOrder {
		it := b.folders[id]
		nb := b.notebook(id)
		nb.Title = it.title
		if parent := it.meta["parent_id"]; parent == "" {
			b.promote(nb)
		} else {
			_, seen := b.notebooks[parent]
			p := b.notebook(parent)
			p.Children = append(p.Children, nb)
			if _, known := b.folders[parent]; !known {
				b.promote(p)
				if !seen {
					b.parser.logger.Warn("joplin: notebook parent missing",
						slog.String("id", id), slog.String("parent", parent))
				}
			}
		}
	}
	b.promoteUnreachable(dirOrder)

	for _, id := range noteOrder {
		it := b.notes[id]
		body := b.normalizeLinks(it.body)
		n := &imf.Note{
			ID:      id,
			Title:   it.title,
			Body:    body,
			Created: parseTime(it.meta["created_time"]),
			Updated: parseTime(it.meta["updated_time"]),
			Links:   imf.ExtractLinks(body),
		}
		nb := b.parentFor(id, it.meta["parent_id"])
		nb.Notes = append(nb.Notes, n)
		b.imfNotes[id] = n
	}

	f := imf.NewForest()
	f.Roots = b.roots
	return f
}

// parentFor returns the notebook a note belongs in. Notes without a parent
// share one Unfiled root; notes pointing at a missing folder get that
// folder materialized as an untitled root.
func (b *builder) parentFor(noteID, parent string) *imf.Notebook {
	if parent == "" {
		if b.unfiled == nil {
			b.unfiled = b.notebook("unfiled-" + noteID)
			b.unfiled.Title = "Unfiled"
			b.promote(b.unfiled)
		}
		return b.unfiled
	}
	if _, known := b.folders[parent]; !known {
		if _, seen := b.notebooks[parent]; !seen {
			b.parser.logger.Warn("joplin: note parent missing",
				slog.String("id", noteID), slog.String("parent", parent))
		}
		b.promote(b.notebook(parent))
	}
	return b.notebook(parent)
}

// notebook returns the node for id, creating an untitled one on first use.
func (b *builder) notebook(id string) *imf.Notebook {
	if nb, ok := b.notebooks[id]; ok {
		return nb
	}
	nb := &imf.Notebook{ID: id}
	b.notebooks[id] = nb
	return nb
}

// promote makes nb a root unless it already is one.
func (b *builder) promote(nb *imf.Notebook) {
	for _, r := range b.roots {
		if r == nb {
			return
		}
	}
	b.roots = append(b.roots, nb)
}

// promoteUnreachable rescues notebooks trapped in a parent cycle. They are
// unreachable from every root, so without this they would silently vanish.
func (b *builder) promoteUnreachable(dirOrder []string) {
	reached := make(map[*imf.Notebook]bool)
	var mark func(nb *imf.Notebook)
	mark = func(nb *imf.Notebook) {
		if reached[nb] {
			return
		}
		reached[nb] = true
		for _, c := range nb.Children {
			mark(c)
		}
	}
	for _, r := range b.roots {
		mark(r)
	}
	for _, id := range dirOrder {
		nb := b.notebooks[id]
		if reached[nb] {
			continue
		}
		b.parser.logger.Warn("joplin: notebook parent cycle", slog.String("id", id))
		// Cut the inbound edge so the subtree is reached exactly once.
		for _, other := range b.notebooks {
			for i, c := range other.Children {
				if c == nb {
					other.Children = append(other.Children[:i], other.Children[i+1:]...)
					break
				}
			}
		}
		b.promote(nb)
		mark(nb)
	}
}

// normalizeLinks rewrites Joplin ](:/<id>) targets to canonical URIs.
// Unknown ids become note links so the resolver records them as dangling.
func (b *builder) normalizeLinks(body string) string {
	return bodyLinkRe.ReplaceAllStringFunc(body, func(m string) string {
		id := strings.ToLower(bodyLinkRe.FindStringSubmatch(m)[1])
		if _, ok := b.resources[id]; ok {
			return "(" + imf.ResourceURI(id) + ")"
		}
		return "(" + imf.NoteURI(id) + ")"
	})
}

func (b *builder) applyTags(tagNames map[string]string, noteTags [][2]string) {
	for _, nt := range noteTags {
		n, ok := b.imfNotes[nt[0]]
		if !ok {
			continue
		}
		name := tagNames[nt[1]]
		if name == "" || n.HasTag(name) {
			continue
		}
		n.Tags = append(n.Tags, name)
	}
}

// attachResources hands each referenced payload to the first note that
// mentions it, in item-file order. Unreferenced payloads are dropped.
func (b *builder) attachResources(noteOrder []string) {
	payloads := b.payloadIndex()

	ids := make([]string, 0, len(b.resources))
	for id := range b.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		it := b.resources[id]
		owner := b.firstReferent(id, noteOrder)
		if owner == nil {
			b.parser.logger.Warn("joplin: resource referenced by no note", slog.String("id", id))
			continue
		}
		name, ok := payloads[id]
		if !ok {
			b.parser.logger.Warn("joplin: resource payload missing", slog.String("id", id))
			continue
		}
		full := filepath.Join(b.parser.dir, ".resources", name)
		fi, err := os.Stat(full)
		if err != nil {
			b.parser.logger.Warn("joplin: resource payload unreadable",
				slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		filename := it.title
		if filename == "" {
			filename = it.meta["filename"]
		}
		res, err := imf.ResourceFromFile(id, filename, it.meta["mime"], full, fi.Size())
		if err != nil {
			b.parser.logger.Warn("joplin: resource checksum failed",
				slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		owner.Resources = append(owner.Resources, res)
	}
}

// payloadIndex maps resource id to its file name under .resources. Joplin
// stores payloads either bare (<id>) or with the original extension
// (<id>.<ext>); both spellings are accepted.
func (b *builder) payloadIndex() map[string]string {
	out := make(map[string]string)
	entries, err := os.ReadDir(filepath.Join(b.parser.dir, ".resources"))
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := e.Name()
		if i := strings.IndexByte(id, '.'); i >= 0 {
			id = id[:i]
		}
		if _, dup := out[id]; !dup {
			out[id] = e.Name()
		}
	}
	return out
}

func (b *builder) firstReferent(resourceID string, noteOrder []string) *imf.Note {
	marker := imf.ResourceURI(resourceID)
	for _, id := range noteOrder {
		n := b.imfNotes[id]
		if strings.Contains(n.Body, marker) {
			return n
		}
	}
	return nil
}

// parseItem splits one item file into title, body, and the trailing
// metadata block. The block is read bottom-up until the separating blank
// line; an item without type_ is malformed.
func parseItem(data []byte) (*item, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	metaStart := end
	for metaStart > 0 && metaLineRe.MatchString(lines[metaStart-1]) {
		metaStart--
	}
	if metaStart == end {
		return nil, fmt.Errorf("no metadata block")
	}

	meta := make(map[string]string, end-metaStart)
	for _, line := range lines[metaStart:end] {
		m := metaLineRe.FindStringSubmatch(line)
		meta[m[1]] = m[2]
	}
	if meta["type_"] == "" {
		return nil, fmt.Errorf("no type_ key")
	}

	cend := metaStart
	for cend > 0 && strings.TrimSpace(lines[cend-1]) == "" {
		cend--
	}
	content := lines[:cend]

	it := &item{id: meta["id"], meta: meta}
	if len(content) > 0 {
		it.title = content[0]
	}
	if len(content) > 1 {
		bodyLines := content[1:]
		if strings.TrimSpace(bodyLines[0]) == "" {
			bodyLines = bodyLines[1:]
		}
		it.body = strings.Join(bodyLines, "\n")
	}
	return it, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
