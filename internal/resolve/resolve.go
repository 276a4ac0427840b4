// Package resolve turns canonical note:// and resource:// references into
// relative Markdown link targets, valid from the referencing note's final
// location in the vault.
package resolve

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/layout"
)

// Failure records one reference that could not be resolved. The link was
// degraded to plain text; the run continues.
type Failure struct {
	NoteID   string `json:"note_id"`
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	Display  string `json:"display"`
}

// Resolver resolves links against a finished layout plan. Not safe for
// concurrent use; the writer runs one per pass.
type Resolver struct {
	plan     *layout.Plan
	failures []Failure
	resolved int
}

func New(plan *layout.Plan) *Resolver {
	return &Resolver{plan: plan}
}

// Rewrite replaces every canonical link in body with a relative target.
// Dangling references collapse to their display text and are recorded.
func (r *Resolver) Rewrite(noteID, notePath, body string) string {
	return imf.LinkRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := imf.LinkRe.FindStringSubmatch(m)
		bang, display, uri := sub[1], sub[2], sub[3]

		kind, id, ok := imf.ParseURI(uri)
		if !ok {
			return m
		}
		target, found := r.Resolve(noteID, imf.NoteLink{TargetID: id, Display: imf.UnescapeDisplay(display), Kind: kind}, notePath)
		if !found {
			return display
		}
		if kind == imf.LinkResource {
			return bang + "[" + display + "](" + target + ")"
		}
		return "[" + display + "](" + target + ")"
	})
}

// Resolve looks a link up in the plan and returns the escaped relative
// target. A miss records a failure and reports found=false.
func (r *Resolver) Resolve(noteID string, link imf.NoteLink, fromPath string) (target string, found bool) {
	var to string
	var ok bool
	switch link.Kind {
	case imf.LinkResource:
		to, ok = r.plan.ResourcePath(link.TargetID)
	default:
		to, ok = r.plan.NotePath(link.TargetID)
	}
	if !ok {
		r.failures = append(r.failures, Failure{
			NoteID:   noteID,
			TargetID: link.TargetID,
			Kind:     string(link.Kind),
			Display:  link.Display,
		})
		return "", false
	}
	r.resolved++
	return escapeTarget(Relative(fromPath, to)), true
}

// Failures returns every miss recorded so far, in encounter order.
func (r *Resolver) Failures() []Failure {
	return r.failures
}

// Resolved returns the number of successful lookups.
func (r *Resolver) Resolved() int {
	return r.resolved
}

// Relative computes the path from the directory containing fromFile to
// toPath. Both are slash-separated vault-relative paths.
func Relative(fromFile, toPath string) string {
	fromDir := path.Dir(fromFile)
	rel, err := filepath.Rel(filepath.FromSlash(fromDir), filepath.FromSlash(toPath))
	if err != nil {
		return toPath
	}
	return filepath.ToSlash(rel)
}

// escapeTarget percent-encodes each path segment. Spaces and parentheses
// in a destination would end the Markdown link early; PathEscape encodes
// both, and escaping per segment keeps the separators literal.
func escapeTarget(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
