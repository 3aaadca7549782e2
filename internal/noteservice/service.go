// Package noteservice is the document service shared by the REST API and the
// MCP tools: reads and writes go through the vault (and therefore through the
// duplicate guard), queries go to the core.
package noteservice

import (
	"context"
	"fmt"
	"sort"

	"github.com/starford/granola-companion/internal/apperr"
	"github.com/starford/granola-companion/internal/checksum"
	"github.com/starford/granola-companion/internal/index"
	"github.com/starford/granola-companion/internal/integration"
	"github.com/starford/granola-companion/internal/journal"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/parser"
	"github.com/starford/granola-companion/internal/syncconfig"
	"github.com/starford/granola-companion/internal/vault"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string          `json:"path"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Checksum    string          `json:"checksum"`
	SyncKey     string          `json:"sync_key,omitempty"`
	Class       models.DocClass `json:"class"`
	Frontmatter map[string]any  `json:"frontmatter,omitempty"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	Path    string          `json:"path"`
	SyncKey string          `json:"sync_key,omitempty"`
	Class   models.DocClass `json:"class"`
}

// CreateResult is the outcome of a create. When the guard redirected the
// request to an existing document, Redirected is set and Note describes
// that document.
type CreateResult struct {
	Note       *NoteDetail `json:"note"`
	Requested  string      `json:"requested"`
	Redirected bool        `json:"redirected"`
}

// Service coordinates the vault, the duplicate-prevention core and the journal.
type Service struct {
	vault   *vault.Vault
	core    *integration.Service
	journal *journal.DB
}

// NewService creates a new note service. j may be nil.
func NewService(v *vault.Vault, core *integration.Service, j *journal.DB) *Service {
	return &Service{vault: v, core: core, journal: j}
}

// GetNote reads a note and describes it.
func (s *Service) GetNote(_ context.Context, path string) (*NoteDetail, error) {
	f, ok := s.vault.File(path)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	data, err := s.vault.Read(f.Path)
	if err != nil {
		return nil, err
	}
	return s.buildNoteDetail(f.Path, data)
}

// CreateNote creates a note through the vault's current creation primitive.
func (s *Service) CreateNote(ctx context.Context, path string, content []byte) (*CreateResult, error) {
	requested := models.NewFile(path).Path
	f, err := s.vault.Create(ctx, path, content)
	if err != nil {
		return nil, err
	}
	data := content
	if f.Path != requested {
		if data, err = s.vault.Read(f.Path); err != nil {
			return nil, err
		}
	}
	note, err := s.buildNoteDetail(f.Path, data)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Note: note, Requested: requested, Redirected: f.Path != requested}, nil
}

// UpdateNote replaces a note's content. A non-empty ifMatch must equal the
// current checksum.
func (s *Service) UpdateNote(ctx context.Context, path string, content []byte, ifMatch string) (*NoteDetail, error) {
	f, ok := s.vault.File(path)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	existing, err := s.vault.Read(f.Path)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && !checksum.Matches(existing, ifMatch) {
		return nil, apperr.ErrConflict
	}
	if err := s.vault.Modify(ctx, f.Path, content); err != nil {
		return nil, err
	}
	return s.buildNoteDetail(f.Path, content)
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(ctx context.Context, path string) error {
	return s.vault.Delete(ctx, path)
}

// MoveNote renames a note.
func (s *Service) MoveNote(ctx context.Context, from, to string) (*NoteDetail, error) {
	f, err := s.vault.Rename(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return s.GetNote(ctx, f.Path)
}

// ListNotes returns a page of Markdown notes sorted by path. class filters by
// document class when non-empty.
func (s *Service) ListNotes(_ context.Context, limit, offset int, class models.DocClass) ([]NoteListItem, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var all []NoteListItem
	for _, f := range s.vault.Files() {
		if !f.IsMarkdown() {
			continue
		}
		item := s.listItem(f)
		if class != "" && item.Class != class {
			continue
		}
		all = append(all, item)
	}
	total := len(all)
	if offset >= total {
		return []NoteListItem{}, total
	}
	end := min(offset+limit, total)
	return all[offset:end], total
}

// FindBySyncKey returns every indexed document holding key.
func (s *Service) FindBySyncKey(_ context.Context, key string) []NoteListItem {
	files := s.core.Index().FindAllByKey(key)
	out := make([]NoteListItem, 0, len(files))
	for _, f := range files {
		out = append(out, s.listItem(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// IndexStats describes the incremental index.
func (s *Service) IndexStats() index.Stats {
	return s.core.Index().Stats()
}

// VerifyIndex rebuilds the index from the vault and reports drift.
func (s *Service) VerifyIndex() index.VerifyResult {
	return s.core.Index().Verify()
}

// DuplicateStats summarises same-key note groups.
func (s *Service) DuplicateStats(_ context.Context) integration.Stats {
	return s.core.StatsNotice()
}

// CleanupDuplicates deletes all but one document per duplicate group.
func (s *Service) CleanupDuplicates(ctx context.Context) (integration.CleanupResult, error) {
	return s.core.DeleteDuplicates(ctx)
}

// Settings returns the companion settings in effect.
func (s *Service) Settings() models.Settings {
	return s.core.Settings()
}

// UpdateSettings applies new settings and re-initializes the core.
func (s *Service) UpdateSettings(ctx context.Context, st models.Settings) error {
	return s.core.Initialize(ctx, st)
}

// UpstreamPlugin reports whether the sync plugin is installed and enabled.
func (s *Service) UpstreamPlugin() syncconfig.Plugin {
	return s.core.ConfigReader().Plugin()
}

// Journal lists recent journal entries, newest first. kind may be empty.
func (s *Service) Journal(ctx context.Context, kind journal.Kind, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	entries, err := s.journal.List(ctx, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("noteservice: journal: %w", err)
	}
	return nonNilSlice(entries), nil
}

func (s *Service) listItem(f models.File) NoteListItem {
	key, _ := s.core.Index().KeyForPath(f.Path)
	return NoteListItem{
		Path:    f.Path,
		SyncKey: key,
		Class:   s.core.ConfigReader().Classify(f.Path),
	}
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func (s *Service) buildNoteDetail(path string, data []byte) (*NoteDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("noteservice: parse %s: %w", path, err)
	}
	fm, _ := parser.ExtractFrontmatter(string(data))
	return &NoteDetail{
		Path:        path,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		SyncKey:     fm.SyncKey(s.core.SyncKeyField()),
		Class:       s.core.ConfigReader().Classify(path),
		Frontmatter: res.Frontmatter,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
