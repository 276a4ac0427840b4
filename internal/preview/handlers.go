package preview

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/notemill/notemill/internal/apperr"
	"github.com/notemill/notemill/internal/index"
)

// Handler holds the API route handlers.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the URL (everything after /api/notes/).
// Supports encoded slashes from API clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListNotes handles GET /api/notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	tag := q.Get("tag")

	items, total, err := h.svc.ListNotes(r.Context(), limit, offset, tag)
	if err != nil {
		if errors.Is(err, errNoIndex) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("search index not available"))
			return
		}
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": items,
		"total": total,
	})
}

// GetNote handles GET /api/notes/*. The response is the note itself: raw
// Markdown by default, rendered HTML when the client accepts text/html.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get note failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		html, err := h.svc.RenderHTML(data)
		if err != nil {
			slog.Error("render html failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(html)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(data)
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		if errors.Is(err, errNoIndex) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("search index not available"))
			return
		}
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Manifest handles GET /api/manifest.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Manifest())
}

// ResourceHandler serves converted resource payloads.
type ResourceHandler struct {
	vaultRoot   string
	resourceDir string
}

// NewResourceHandler creates a handler serving files from the vault's
// resource directory.
func NewResourceHandler(vaultRoot, resourceDir string) *ResourceHandler {
	return &ResourceHandler{vaultRoot: vaultRoot, resourceDir: resourceDir}
}

func (h *ResourceHandler) dir() string {
	return filepath.Join(h.vaultRoot, h.resourceDir)
}

// safeName validates that the filename is a plain name (no path separators,
// no traversal) and returns the absolute path under the resource dir.
func (h *ResourceHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	abs := filepath.Join(h.dir(), cleaned)
	if !strings.HasPrefix(abs, h.dir()+string(os.PathSeparator)) && abs != h.dir() {
		return "", fmt.Errorf("path escapes resource directory")
	}
	return abs, nil
}

// Serve handles GET /resources/*.
func (h *ResourceHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	abs, err := h.safeName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
