// Package models defines the domain types shared by the vault host and the
// duplicate-prevention core.
package models

import (
	"path"
	"strings"
	"time"
)

// MarkdownExtension is the only extension the core indexes.
const MarkdownExtension = "md"

// File is a handle to a document owned by the vault. Path is slash-separated
// and relative to the vault root; it changes when the document is renamed.
type File struct {
	Path      string `json:"path"`
	Extension string `json:"extension"`
}

// NewFile builds a handle for path, deriving the extension.
func NewFile(p string) File {
	p = strings.TrimPrefix(path.Clean("/"+filepathToSlash(p)), "/")
	return File{
		Path:      p,
		Extension: strings.TrimPrefix(path.Ext(p), "."),
	}
}

// Name returns the base name of the document including extension.
func (f File) Name() string {
	return path.Base(f.Path)
}

// IsMarkdown reports whether the handle points at a Markdown document.
func (f File) IsMarkdown() bool {
	return f.Extension == MarkdownExtension
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// FileMetadata is a lightweight representation returned by storage listings.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocClass distinguishes notes from transcripts sharing a sync key.
type DocClass string

// Document classes.
const (
	ClassNote       DocClass = "note"
	ClassTranscript DocClass = "transcript"
)

// DuplicateGroup is a derived view of documents sharing one sync key.
type DuplicateGroup struct {
	SyncKey string `json:"sync_key"`
	Files   []File `json:"files"`
}

// Paths returns the paths of every file in the group.
func (g DuplicateGroup) Paths() []string {
	out := make([]string, len(g.Files))
	for i, f := range g.Files {
		out[i] = f.Path
	}
	return out
}
