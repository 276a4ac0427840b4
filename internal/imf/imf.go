// Package imf defines the intermediate format: the in-memory entity forest
// that source adapters produce and the two writer passes consume. It is
// independent of any source format and of the output layout.
package imf

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/notemill/notemill/internal/checksum"
)

// Notebook is an interior node of the ownership forest. A notebook owns its
// children exclusively; no notebook appears under two parents.
type Notebook struct {
	ID       string
	Title    string
	Children []*Notebook
	Notes    []*Note
}

// Note is a leaf of the ownership forest. Body holds Markdown (or markup one
// pure render step away from it) in which internal references use the
// canonical note:// and resource:// URIs. Links carries one entry per such
// reference, in body order.
type Note struct {
	ID        string
	Title     string
	Body      string
	Created   time.Time // zero when the source has no timestamp
	Updated   time.Time
	Tags      []string
	Resources []*Resource
	Links     []NoteLink
}

// Resource is a binary payload owned by the note that carries it. Exactly one
// of Data and SourcePath is set. Checksum is filled by the producing adapter
// so that path determination never touches the filesystem.
type Resource struct {
	ID         string
	Filename   string
	MIME       string
	Data       []byte
	SourcePath string
	Checksum   string
	Size       int64
}

// LinkKind distinguishes note-to-note links from note-to-resource links.
type LinkKind string

const (
	LinkNote     LinkKind = "note"
	LinkResource LinkKind = "resource"
)

// NoteLink is a weak reference to another entity by identifier. It is never
// an ownership edge, so link graphs may be cyclic or dangling without
// affecting the forest invariants.
type NoteLink struct {
	TargetID string
	Display  string
	Kind     LinkKind
}

const (
	noteScheme     = "note://"
	resourceScheme = "resource://"
)

// NoteURI returns the canonical body encoding for a link to the note with
// the given source identifier. The identifier is percent-encoded so that
// identifiers carrying spaces or parentheses survive Markdown transport.
func NoteURI(id string) string { return noteScheme + escapeID(id) }

// ResourceURI returns the canonical body encoding for a reference to the
// resource with the given source identifier.
func ResourceURI(id string) string { return resourceScheme + escapeID(id) }

// escapeID encodes an identifier for use inside a Markdown link target.
// A space or closing parenthesis would end the target early; PathEscape
// encodes both.
func escapeID(id string) string {
	return url.PathEscape(id)
}

// MarkdownLink renders a body link in canonical form. Square brackets in
// the display text would terminate the Markdown label early, so they are
// escaped.
func MarkdownLink(display, uri string) string {
	return "[" + escapeBrackets(display) + "](" + uri + ")"
}

// MarkdownImage renders a body image reference in canonical form.
func MarkdownImage(display, uri string) string {
	return "!" + MarkdownLink(display, uri)
}

func escapeBrackets(s string) string {
	s = strings.ReplaceAll(s, "[", "\\[")
	return strings.ReplaceAll(s, "]", "\\]")
}

// UnescapeDisplay reverses the bracket escaping MarkdownLink applies to
// display text, recovering the text as the source note showed it.
func UnescapeDisplay(s string) string {
	s = strings.ReplaceAll(s, "\\[", "[")
	return strings.ReplaceAll(s, "\\]", "]")
}

// LinkRe matches one canonical body link: an optional image marker, a
// bracketed display (escaped-bracket pairs allowed), and a note:// or
// resource:// target. Submatches: marker, display, URI.
var LinkRe = regexp.MustCompile(`(!?)\[((?:\\.|[^\]\\])*)\]\(((?:note|resource)://[^)\s]+)\)`)

// ExtractLinks scans a normalized body and returns one NoteLink per
// canonical occurrence, in body order. Adapters attach the result to the
// note they emit, so the model carries its references without a body
// re-scan.
func ExtractLinks(body string) []NoteLink {
	var links []NoteLink
	for _, m := range LinkRe.FindAllStringSubmatch(body, -1) {
		kind, id, ok := ParseURI(m[3])
		if !ok {
			continue
		}
		links = append(links, NoteLink{TargetID: id, Display: UnescapeDisplay(m[2]), Kind: kind})
	}
	return links
}

// ParseURI splits a canonical link URI into its kind and decoded
// identifier. ok is false for anything that is not a note:// or
// resource:// URI.
func ParseURI(raw string) (kind LinkKind, id string, ok bool) {
	switch {
	case strings.HasPrefix(raw, noteScheme):
		kind, id = LinkNote, raw[len(noteScheme):]
	case strings.HasPrefix(raw, resourceScheme):
		kind, id = LinkResource, raw[len(resourceScheme):]
	default:
		return "", "", false
	}
	decoded, err := url.PathUnescape(id)
	if err != nil || decoded == "" {
		return "", "", false
	}
	return kind, decoded, true
}

// HasTag reports whether the note carries the given tag (exact match).
func (n *Note) HasTag(name string) bool {
	for _, t := range n.Tags {
		if t == name {
			return true
		}
	}
	return false
}

// NewResource builds an in-memory resource and computes its checksum.
func NewResource(id, filename, mime string, data []byte) *Resource {
	return &Resource{
		ID:       id,
		Filename: filename,
		MIME:     mime,
		Data:     data,
		Checksum: checksum.Sum(data),
		Size:     int64(len(data)),
	}
}

// ResourceFromFile builds a resource whose payload stays on disk at path.
// The checksum is computed now, streaming, so later passes need no I/O.
func ResourceFromFile(id, filename, mime, path string, size int64) (*Resource, error) {
	sum, err := checksum.SumFile(path)
	if err != nil {
		return nil, fmt.Errorf("imf: resource %s: %w", id, err)
	}
	return &Resource{
		ID:         id,
		Filename:   filename,
		MIME:       mime,
		SourcePath: path,
		Checksum:   sum,
		Size:       size,
	}, nil
}
