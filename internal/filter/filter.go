// Package filter prunes the intermediate forest by title and tag predicates
// before any path is assigned. Removal only: surviving entities keep their
// identity, and links to removed notes are left dangling for the resolver
// to degrade.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/notemill/notemill/internal/imf"
)

// Predicates configures which notes survive the filter.
//
// Title patterns use path.Match glob syntax and compare case-insensitively.
// Tags match exactly. Empty include lists mean include-all; exclusion always
// wins over inclusion.
type Predicates struct {
	IncludeTitles []string
	ExcludeTitles []string
	IncludeTags   []string
	ExcludeTags   []string

	// KeepEmptyNotebooks retains notebooks that were already empty in the
	// source. Notebooks emptied by the filter itself are always dropped.
	KeepEmptyNotebooks bool
}

// Filter is a compiled predicate set.
type Filter struct {
	includeTitles []string
	excludeTitles []string
	includeTags   map[string]struct{}
	excludeTags   map[string]struct{}
	keepEmpty     bool
}

// New compiles the predicates, validating every glob pattern up front.
func New(p Predicates) (*Filter, error) {
	f := &Filter{
		includeTags: make(map[string]struct{}, len(p.IncludeTags)),
		excludeTags: make(map[string]struct{}, len(p.ExcludeTags)),
		keepEmpty:   p.KeepEmptyNotebooks,
	}
	for _, pat := range p.IncludeTitles {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		if _, err := path.Match(pat, "probe"); err != nil {
			return nil, fmt.Errorf("filter: bad include pattern %q: %w", pat, err)
		}
		f.includeTitles = append(f.includeTitles, pat)
	}
	for _, pat := range p.ExcludeTitles {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		if _, err := path.Match(pat, "probe"); err != nil {
			return nil, fmt.Errorf("filter: bad exclude pattern %q: %w", pat, err)
		}
		f.excludeTitles = append(f.excludeTitles, pat)
	}
	for _, tag := range p.IncludeTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.includeTags[tag] = struct{}{}
		}
	}
	for _, tag := range p.ExcludeTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.excludeTags[tag] = struct{}{}
		}
	}
	return f, nil
}

// Keep reports whether the note passes the predicate set.
func (f *Filter) Keep(n *imf.Note) bool {
	title := strings.ToLower(n.Title)
	for _, pat := range f.excludeTitles {
		if ok, _ := path.Match(pat, title); ok {
			return false
		}
	}
	for _, tag := range n.Tags {
		if _, bad := f.excludeTags[tag]; bad {
			return false
		}
	}
	if len(f.includeTitles) == 0 && len(f.includeTags) == 0 {
		return true
	}
	for _, pat := range f.includeTitles {
		if ok, _ := path.Match(pat, title); ok {
			return true
		}
	}
	for _, tag := range n.Tags {
		if _, good := f.includeTags[tag]; good {
			return true
		}
	}
	return false
}

// Apply returns a pruned copy of the forest along with the number of notes
// removed. Notebook nodes are copied; surviving notes are shared by pointer
// and never mutated. A notebook whose subtree was entirely filtered out is
// dropped, recursively, unless it was empty source-side and the filter is
// configured to keep such notebooks.
func (f *Filter) Apply(forest *imf.Forest) (*imf.Forest, int) {
	pruned := imf.NewForest()
	removed := 0
	for _, root := range forest.Roots {
		if kept := f.pruneNotebook(root, &removed); kept != nil {
			pruned.Roots = append(pruned.Roots, kept)
		}
	}
	return pruned, removed
}

func (f *Filter) pruneNotebook(nb *imf.Notebook, removed *int) *imf.Notebook {
	sourceEmpty := len(nb.Notes) == 0 && len(nb.Children) == 0

	out := &imf.Notebook{ID: nb.ID, Title: nb.Title}
	for _, n := range nb.Notes {
		if f.Keep(n) {
			out.Notes = append(out.Notes, n)
		} else {
			*removed++
		}
	}
	for _, child := range nb.Children {
		if kept := f.pruneNotebook(child, removed); kept != nil {
			out.Children = append(out.Children, kept)
		}
	}

	if len(out.Notes) == 0 && len(out.Children) == 0 {
		if sourceEmpty && f.keepEmpty {
			return out
		}
		return nil
	}
	return out
}
