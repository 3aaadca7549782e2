package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/granola-companion/internal/apperr"
	"github.com/starford/granola-companion/internal/journal"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the URL (everything after /api/notes/).
// Supports encoded slashes from OpenAPI clients (e.g. Granola%2FKickoff.md).
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

// writeError maps domain sentinels to HTTP statuses. Anything unknown is
// logged and reported as an internal error.
func writeError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("note already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional pagination and class filter
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			class	query		string	false	"Document class"	Enums(note, transcript)
//	@Success		200		{object}	NoteListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	class := models.DocClass(q.Get("class"))
	if class != "" && class != models.ClassNote && class != models.ClassTranscript {
		writeJSON(w, http.StatusBadRequest, errorBody("class must be note or transcript"))
		return
	}

	items, total := h.svc.ListNotes(r.Context(), limit, offset, class)
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		writeError(w, "get note", path, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes. The create goes through the duplicate
// guard: when a document with the same sync key already exists the response
// is 200 with redirected set and the existing note.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	CreateNoteResponse
//	@Success		200		{object}	CreateNoteResponse	"Redirected to an existing document"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and content are required"))
		return
	}
	res, err := h.svc.CreateNote(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create note", req.Path, err)
		return
	}
	status := http.StatusCreated
	if res.Redirected {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// UpdateNote handles PUT /api/notes/*.
//
//	@Summary		Update a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Note path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body	body		UpdateNoteRequest	true	"Updated content"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	note, err := h.svc.UpdateNote(r.Context(), path, []byte(req.Content), r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "update note", path, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/*.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			path	path	string	true	"Note path"
//	@Success		204		"Note deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteNote(r.Context(), path); err != nil {
		writeError(w, "delete note", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveNote handles POST /api/notes/move.
//
//	@Summary		Rename a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveNoteRequest	true	"Source and destination"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/move [post]
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	var req MoveNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are required"))
		return
	}
	note, err := h.svc.MoveNote(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, "move note", req.From, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// IndexStats handles GET /api/index/stats.
//
//	@Summary		Describe the sync-key index
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	index.Stats
//	@Security		BearerAuth
//	@Router			/index/stats [get]
func (h *Handler) IndexStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.IndexStats())
}

// FindByKey handles GET /api/index/keys/{key}.
//
//	@Summary		List documents holding a sync key
//	@Tags			index
//	@Produce		json
//	@Param			key	path		string	true	"Sync key"
//	@Success		200	{object}	SyncKeyResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/keys/{key} [get]
func (h *Handler) FindByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	files := h.svc.FindBySyncKey(r.Context(), key)
	if len(files) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("sync key not indexed"))
		return
	}
	writeJSON(w, http.StatusOK, SyncKeyResponse{SyncKey: key, Files: files})
}

// VerifyIndex handles POST /api/index/verify.
//
//	@Summary		Rebuild the index and report drift
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	index.VerifyResult
//	@Security		BearerAuth
//	@Router			/index/verify [post]
func (h *Handler) VerifyIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.VerifyIndex())
}

// Duplicates handles GET /api/duplicates.
//
//	@Summary		Duplicate statistics
//	@Tags			duplicates
//	@Produce		json
//	@Success		200	{object}	DuplicateStatsResponse
//	@Security		BearerAuth
//	@Router			/duplicates [get]
func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.DuplicateStats(r.Context()))
}

// CleanupDuplicates handles POST /api/duplicates/cleanup?confirm=true.
//
//	@Summary		Delete all but one document per duplicate group
//	@Tags			duplicates
//	@Produce		json
//	@Param			confirm	query		bool	true	"Must be true"
//	@Success		200		{object}	CleanupResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/duplicates/cleanup [post]
func (h *Handler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("cleanup deletes files; pass confirm=true"))
		return
	}
	res, err := h.svc.CleanupDuplicates(r.Context())
	if err != nil {
		writeError(w, "cleanup duplicates", "", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Companion settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	models.Settings
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// PutSettings handles PUT /api/settings. The core is re-initialized with the
// new values.
//
//	@Summary		Replace companion settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Settings	true	"Settings"
//	@Success		200		{object}	models.Settings
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var st models.Settings
	if !decodeJSON(w, r, &st) {
		return
	}
	if err := h.svc.UpdateSettings(r.Context(), st); err != nil {
		writeError(w, "update settings", "", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// Upstream handles GET /api/upstream.
//
//	@Summary		State of the upstream sync plugin
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	UpstreamResponse
//	@Security		BearerAuth
//	@Router			/upstream [get]
func (h *Handler) Upstream(w http.ResponseWriter, r *http.Request) {
	p := h.svc.UpstreamPlugin()
	writeJSON(w, http.StatusOK, UpstreamResponse{Plugin: p, Available: p.Available()})
}

// Journal handles GET /api/journal.
//
//	@Summary		Recent prevention and cleanup activity
//	@Tags			journal
//	@Produce		json
//	@Param			kind	query		string	false	"Entry kind"	Enums(prevented, cleanup)
//	@Param			limit	query		int		false	"Max entries"
//	@Success		200		{object}	JournalResponse
//	@Security		BearerAuth
//	@Router			/journal [get]
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.svc.Journal(r.Context(), journal.Kind(q.Get("kind")), limit)
	if err != nil {
		writeError(w, "journal", "", err)
		return
	}
	writeJSON(w, http.StatusOK, JournalResponse{Entries: entries})
}
