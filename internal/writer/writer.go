// Package writer is the second pass: it materializes a layout plan against
// a vault, resolving links inline. Failures are contained per item; the
// pass always finishes unless the context is cancelled.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/report"
	"github.com/notemill/notemill/internal/resolve"
	"github.com/notemill/notemill/internal/vault"
)

// RenderFunc converts a note body to final Markdown. The default is the
// identity: adapters deliver bodies already in Markdown.
type RenderFunc func(body string) string

// ProgressFunc observes per-item completion.
type ProgressFunc func(done, total int, label string)

type Options struct {
	Flavor          Flavor
	IncludeSourceID bool
	Render          RenderFunc
	Progress        ProgressFunc
	Logger          *slog.Logger
}

// Result is what one write pass accomplished.
type Result struct {
	NotesWritten     int
	ResourcesWritten int
	LinksResolved    int
	LinkFailures     []resolve.Failure
	WriteErrors      []report.WriteFailure
}

// Write materializes the plan: directories, then notes in traversal order,
// then one payload copy per distinct resource hash. The returned error is
// non-nil only for context cancellation; everything else lands in Result.
func Write(ctx context.Context, forest *imf.Forest, plan *layout.Plan, v vault.Provider, opts Options) (*Result, error) {
	if opts.Render == nil {
		opts.Render = func(s string) string { return s }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Flavor == "" {
		opts.Flavor = FlavorObsidian
	}

	res := &Result{}
	r := resolve.New(plan)
	total := len(plan.Notes) + len(plan.Resources)
	done := 0
	tick := func(label string) {
		done++
		if opts.Progress != nil {
			opts.Progress(done, total, label)
		}
	}
	fail := func(kind, p, id string, err error) {
		res.WriteErrors = append(res.WriteErrors, report.WriteFailure{
			Path: p, ID: id, Kind: kind, Err: err.Error(),
		})
		opts.Logger.Warn("write: "+kind+" failed",
			slog.String("path", p),
			slog.String("error", err.Error()))
	}

	dirs := make([]string, 0, len(plan.Notebooks))
	for _, dir := range plan.Notebooks {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := v.EnsureDir(dir); err != nil {
			fail("notebook", dir, "", err)
		}
	}

	err := forest.Walk(func(_ []*imf.Notebook, nb *imf.Notebook) error {
		for _, n := range nb.Notes {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, ok := plan.NotePath(n.ID)
			if !ok {
				continue
			}
			if err := writeNote(v, r, n, p, opts); err != nil {
				fail("note", p, n.ID, err)
			} else {
				res.NotesWritten++
				opts.Logger.Debug("write: note", slog.String("path", p))
			}
			tick(p)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	copied := map[string]bool{}
	err = forest.Walk(func(_ []*imf.Notebook, nb *imf.Notebook) error {
		for _, n := range nb.Notes {
			if _, ok := plan.NotePath(n.ID); !ok {
				continue
			}
			for _, rs := range n.Resources {
				if err := ctx.Err(); err != nil {
					return err
				}
				p, ok := plan.ResourcePathByHash(rs.Checksum)
				if !ok || copied[rs.Checksum] {
					continue
				}
				copied[rs.Checksum] = true
				if err := copyResource(v, p, rs); err != nil {
					fail("resource", p, rs.ID, err)
				} else {
					res.ResourcesWritten++
					opts.Logger.Debug("write: resource", slog.String("path", p))
				}
				tick(p)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	res.LinkFailures = r.Failures()
	res.LinksResolved = r.Resolved()
	return res, nil
}

func writeNote(v vault.Provider, r *resolve.Resolver, n *imf.Note, p string, opts Options) error {
	front, err := renderFrontMatter(opts.Flavor, n, p, opts.IncludeSourceID)
	if err != nil {
		return err
	}
	body := r.Rewrite(n.ID, p, opts.Render(n.Body))

	content := make([]byte, 0, len(front)+len(body)+1)
	content = append(content, front...)
	content = append(content, body...)
	if !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, '\n')
	}
	return v.Write(p, content)
}

func copyResource(v vault.Provider, p string, rs *imf.Resource) error {
	if rs.Data != nil {
		return v.Write(p, rs.Data)
	}
	if rs.SourcePath == "" {
		return fmt.Errorf("writer: resource %s has no payload", rs.ID)
	}
	f, err := os.Open(rs.SourcePath)
	if err != nil {
		return fmt.Errorf("writer: open payload: %w", err)
	}
	defer f.Close()
	return v.WriteFrom(p, f)
}

// EmitManifest serializes the run manifest into the vault metadata
// directory.
func EmitManifest(v vault.Provider, m *report.Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := v.Write(report.ManifestPath, data); err != nil {
		return fmt.Errorf("writer: write manifest: %w", err)
	}
	return nil
}
