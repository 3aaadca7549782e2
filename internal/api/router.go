package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/granola-companion/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes. The literal /notes/move route wins over the wildcard.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Post("/notes/move", h.MoveNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Sync-key index.
	r.Get("/index/stats", h.IndexStats)
	r.Get("/index/keys/{key}", h.FindByKey)
	r.Post("/index/verify", h.VerifyIndex)

	// Duplicates.
	r.Get("/duplicates", h.Duplicates)
	r.Post("/duplicates/cleanup", h.CleanupDuplicates)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
	r.Get("/upstream", h.Upstream)
	r.Get("/journal", h.Journal)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
