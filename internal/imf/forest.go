package imf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notemill/notemill/internal/apperr"
)

// Forest is the ordered collection of root notebooks for one conversion run.
// Use NewForest so the internal ID set is initialized.
type Forest struct {
	Roots []*Notebook

	ids map[string]struct{}
}

// NewForest returns an empty forest.
func NewForest() *Forest {
	return &Forest{ids: make(map[string]struct{})}
}

// Merge appends the roots of other after validating that none of its
// notebook or note IDs clash with entities already merged. On a clash the
// forest is left untouched and the error wraps apperr.ErrDuplicateID, so a
// single bad source aborts only its own sub-forest.
func (f *Forest) Merge(other *Forest) error {
	if other == nil {
		return nil
	}
	incoming := make(map[string]struct{})
	for _, root := range other.Roots {
		if err := collectIDs(root, incoming); err != nil {
			return err
		}
	}
	for id := range incoming {
		if _, taken := f.ids[id]; taken {
			return fmt.Errorf("imf: merge: id %q already present: %w", id, apperr.ErrDuplicateID)
		}
	}
	if f.ids == nil {
		f.ids = make(map[string]struct{})
	}
	for id := range incoming {
		f.ids[id] = struct{}{}
	}
	f.Roots = append(f.Roots, other.Roots...)
	return nil
}

func collectIDs(nb *Notebook, into map[string]struct{}) error {
	if err := addID(nb.ID, into); err != nil {
		return err
	}
	for _, n := range nb.Notes {
		if err := addID(n.ID, into); err != nil {
			return err
		}
	}
	for _, child := range nb.Children {
		if err := collectIDs(child, into); err != nil {
			return err
		}
	}
	return nil
}

func addID(id string, into map[string]struct{}) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("imf: empty entity id: %w", apperr.ErrDuplicateID)
	}
	if _, taken := into[id]; taken {
		return fmt.Errorf("imf: id %q occurs twice in one source: %w", id, apperr.ErrDuplicateID)
	}
	into[id] = struct{}{}
	return nil
}

// Comparator fixes sibling order at every branching point of the forest.
// A nil field keeps the adapter's insertion order for that entity kind.
type Comparator struct {
	Notebooks func(a, b *Notebook) int
	Notes     func(a, b *Note) int
	Resources func(a, b *Resource) int
}

// ByTitle orders siblings lexicographically by title (filename for
// resources) with the ID as tie-breaker. This is the default ordering:
// it makes output independent of the order sources happened to list
// their entries in.
func ByTitle() Comparator {
	return Comparator{
		Notebooks: func(a, b *Notebook) int {
			if c := strings.Compare(a.Title, b.Title); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		},
		Notes: func(a, b *Note) int {
			if c := strings.Compare(a.Title, b.Title); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		},
		Resources: func(a, b *Resource) int {
			if c := strings.Compare(a.Filename, b.Filename); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		},
	}
}

// ByInsertion keeps every sibling sequence exactly as the adapter built it.
func ByInsertion() Comparator { return Comparator{} }

// Sort orders the whole forest under cmp. Sorting is stable, so entities
// comparing equal keep their insertion order.
func (f *Forest) Sort(cmp Comparator) {
	if cmp.Notebooks != nil {
		sort.SliceStable(f.Roots, func(i, j int) bool {
			return cmp.Notebooks(f.Roots[i], f.Roots[j]) < 0
		})
	}
	for _, root := range f.Roots {
		sortNotebook(root, cmp)
	}
}

func sortNotebook(nb *Notebook, cmp Comparator) {
	if cmp.Notebooks != nil {
		sort.SliceStable(nb.Children, func(i, j int) bool {
			return cmp.Notebooks(nb.Children[i], nb.Children[j]) < 0
		})
	}
	if cmp.Notes != nil {
		sort.SliceStable(nb.Notes, func(i, j int) bool {
			return cmp.Notes(nb.Notes[i], nb.Notes[j]) < 0
		})
	}
	if cmp.Resources != nil {
		for _, n := range nb.Notes {
			sort.SliceStable(n.Resources, func(i, j int) bool {
				return cmp.Resources(n.Resources[i], n.Resources[j]) < 0
			})
		}
	}
	for _, child := range nb.Children {
		sortNotebook(child, cmp)
	}
}

// Walk visits every notebook in depth-first pre-order. chain holds the
// ancestors of nb, outermost first. Returning an error stops the walk.
func (f *Forest) Walk(visit func(chain []*Notebook, nb *Notebook) error) error {
	var walk func(chain []*Notebook, nb *Notebook) error
	walk = func(chain []*Notebook, nb *Notebook) error {
		if err := visit(chain, nb); err != nil {
			return err
		}
		next := append(chain, nb)
		for _, child := range nb.Children {
			if err := walk(next, child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range f.Roots {
		if err := walk(nil, root); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of notebooks, notes, resource references, and
// note links in the forest. Resource references count attachments per note,
// before content-hash deduplication.
func (f *Forest) Count() (notebooks, notes, resources, links int) {
	_ = f.Walk(func(_ []*Notebook, nb *Notebook) error {
		notebooks++
		notes += len(nb.Notes)
		for _, n := range nb.Notes {
			resources += len(n.Resources)
			links += len(n.Links)
		}
		return nil
	})
	return notebooks, notes, resources, links
}
