// Package preview implements the read-only HTTP server over a converted
// vault. It serves note content (raw Markdown or rendered HTML), the run
// manifest, and index-backed search. There are no mutation routes; a vault
// is replaced by re-running the conversion, not edited in place.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/notemill/notemill/internal/apperr"
	"github.com/notemill/notemill/internal/index"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/mdnote"
	"github.com/notemill/notemill/internal/report"
	"github.com/notemill/notemill/internal/vault"
)

var errNoIndex = errors.New("preview: search index not available")

// Service coordinates vault reads, the manifest, and the optional search
// index for the HTTP layer.
type Service struct {
	store  vault.Provider
	idx    index.Querier
	resDir string
	logger *slog.Logger
	md     goldmark.Markdown

	mu       sync.RWMutex // guards manifest; watch mode swaps it after each rebuild
	manifest *report.Manifest
}

// NewService creates the preview service. idx may be nil; search and tag
// filtering then report the index as unavailable. An empty resourceDir
// falls back to the default layout.
func NewService(store vault.Provider, manifest *report.Manifest, idx index.Querier, resourceDir string, logger *slog.Logger) *Service {
	if resourceDir == "" {
		resourceDir = layout.DefaultResourceDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		manifest: manifest,
		idx:      idx,
		resDir:   resourceDir,
		logger:   logger,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// NoteListItem is a lightweight entry in a list response.
type NoteListItem struct {
	Path      string    `json:"path"`
	SourceID  string    `json:"source_id,omitempty"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ListNotes returns a page of converted notes. With an index attached the
// rows carry title and tags; without one the listing falls back to the
// manifest's identifier->path map.
func (s *Service) ListNotes(ctx context.Context, limit, offset int, tag string) ([]NoteListItem, int, error) {
	if s.idx != nil {
		rows, total, err := s.idx.ListNotes(limit, offset, tag)
		if err != nil {
			return nil, 0, err
		}
		items := make([]NoteListItem, len(rows))
		for i, r := range rows {
			items[i] = NoteListItem{
				Path:      r.Path,
				SourceID:  r.SourceID,
				Title:     r.Title,
				Tags:      r.Tags,
				UpdatedAt: r.UpdatedAt,
			}
		}
		return items, total, nil
	}

	if tag != "" {
		return nil, 0, errNoIndex
	}
	if limit <= 0 {
		limit = 50
	}
	m := s.Manifest()
	all := make([]NoteListItem, 0, len(m.Notes))
	for id, p := range m.Notes {
		all = append(all, NoteListItem{
			Path:     p,
			SourceID: id,
			Title:    strings.TrimSuffix(path.Base(p), ".md"),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	total := len(all)
	if offset >= total {
		return []NoteListItem{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// GetNote reads one note's raw bytes from the vault.
func (s *Service) GetNote(ctx context.Context, notePath string) ([]byte, error) {
	if !strings.EqualFold(path.Ext(notePath), ".md") {
		return nil, fmt.Errorf("preview: %s: %w", notePath, apperr.ErrNotFound)
	}
	if strings.HasPrefix(notePath, layout.MetaDirName+"/") {
		return nil, fmt.Errorf("preview: %s: %w", notePath, apperr.ErrNotFound)
	}
	data, err := s.store.Read(notePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("preview: %s: %w", notePath, apperr.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// RenderHTML converts a note to HTML. Front matter is stripped before
// rendering; only the body reaches the Markdown engine.
func (s *Service) RenderHTML(data []byte) ([]byte, error) {
	body := mdnote.Parse(data).Body
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(body), &buf); err != nil {
		return nil, fmt.Errorf("preview: render html: %w", err)
	}
	return buf.Bytes(), nil
}

// Search delegates to the index.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.idx == nil {
		return nil, errNoIndex
	}
	return s.idx.Search(query, limit)
}

// Manifest returns the current run manifest served at /api/manifest.
func (s *Service) Manifest() *report.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// SetManifest swaps the manifest snapshot after a re-conversion.
func (s *Service) SetManifest(m *report.Manifest) {
	s.mu.Lock()
	s.manifest = m
	s.mu.Unlock()
}
