package api

import (
	"github.com/starford/granola-companion/internal/integration"
	"github.com/starford/granola-companion/internal/journal"
	"github.com/starford/granola-companion/internal/noteservice"
	"github.com/starford/granola-companion/internal/syncconfig"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"Granola/Kickoff.md" validate:"required"`
	Content string `json:"content" example:"---\ngranola_id: 0a1b\n---\n# Kickoff" validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// MoveNoteRequest is the request body for renaming a note.
type MoveNoteRequest struct {
	From string `json:"from" example:"Granola/Kickoff.md" validate:"required"`
	To   string `json:"to" example:"Archive/Kickoff.md" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// CreateNoteResponse is returned by POST /notes.
type CreateNoteResponse = noteservice.CreateResult

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SyncKeyResponse lists the documents holding one sync key.
type SyncKeyResponse struct {
	SyncKey string         `json:"sync_key" example:"0a1b" validate:"required"`
	Files   []NoteListItem `json:"files" validate:"required"`
}

// DuplicateStatsResponse is returned by GET /duplicates.
type DuplicateStatsResponse = integration.Stats

// CleanupResponse is returned by POST /duplicates/cleanup.
type CleanupResponse = integration.CleanupResult

// JournalResponse wraps journal entries.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries" validate:"required"`
}

// UpstreamResponse describes the upstream sync plugin.
type UpstreamResponse struct {
	syncconfig.Plugin
	Available bool `json:"available"`
}
