package preview

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the full preview server router. Health endpoints are
// unauthenticated; everything else sits behind the Bearer middleware when
// auth is enabled. reload, if non-nil, is mounted at GET /api/events.
func NewRouter(svc *Service, authEnabled bool, token string, reload http.Handler) chi.Router {
	h := NewHandler(svc)
	rh := NewResourceHandler(svc.store.Root(), svc.resDir)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Get("/api/notes", h.ListNotes)
		r.Get("/api/notes/*", h.GetNote)
		r.Get("/api/search", h.Search)
		r.Get("/api/manifest", h.Manifest)
		r.Get("/resources/*", rh.Serve)

		if reload != nil {
			r.Get("/api/events", reload.ServeHTTP)
		}
	})

	return r
}
