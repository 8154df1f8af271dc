package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Ingestion and note reads.
	r.Post("/notes", h.Ingest)
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}/status", h.SetStatus)
	r.Get("/notes/{id}/links", h.Links)

	// Search and graph.
	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	// Index maintenance.
	r.Post("/rebuild", h.Rebuild)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
