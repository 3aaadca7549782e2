// Package resolver decides whether creating a document would duplicate an
// existing one of the same class carrying the same sync key.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/parser"
)

// DefaultGracePeriod is the wait before querying the index, giving in-flight
// index updates a chance to land.
const DefaultGracePeriod = 50 * time.Millisecond

// Finder answers key lookups from the incremental index.
type Finder interface {
	FindAllByKey(key string) []models.File
}

// Scanner exposes live host metadata for the fallback scan.
type Scanner interface {
	Files() []models.File
	SyncKey(path string) (string, bool)
}

// Classifier tells transcripts from notes.
type Classifier interface {
	IsTranscript(path string) bool
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(n models.Notice)
}

// Decision is the outcome of a creation check.
type Decision struct {
	ShouldCreate    bool   `json:"should_create"`
	AlternativePath string `json:"alternative_path,omitempty"`
	SyncKey         string `json:"sync_key,omitempty"`
}

// Resolver checks candidate documents against the index.
type Resolver struct {
	finder     Finder
	scanner    Scanner
	classifier Classifier
	notifier   Notifier
	clock      clock.Clock
	logger     *slog.Logger
	grace      time.Duration
	keyField   string

	settings atomic.Pointer[models.Settings]
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for the grace period.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithGracePeriod sets the wait before the index is queried.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Resolver) { r.grace = d }
}

// WithSyncKeyField sets the frontmatter field holding the sync key.
func WithSyncKeyField(field string) Option {
	return func(r *Resolver) { r.keyField = field }
}

// WithNotifier reports index misses to the user when debug mode is on.
func WithNotifier(n Notifier) Option {
	return func(r *Resolver) { r.notifier = n }
}

// New creates a Resolver. Duplicate prevention starts disabled until
// SetSettings is called.
func New(finder Finder, scanner Scanner, classifier Classifier, opts ...Option) *Resolver {
	r := &Resolver{
		finder:     finder,
		scanner:    scanner,
		classifier: classifier,
		clock:      clock.New(),
		logger:     slog.Default(),
		grace:      DefaultGracePeriod,
		keyField:   parser.KeySyncKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.settings.Store(&models.Settings{})
	return r
}

// SetSettings replaces the active settings.
func (r *Resolver) SetSettings(s models.Settings) {
	r.settings.Store(&s)
}

// Settings returns the active settings.
func (r *Resolver) Settings() models.Settings {
	return *r.settings.Load()
}

// InterceptFileCreation decides whether a document with content may be
// created at path. Only cancellation of ctx is reported as an error.
func (r *Resolver) InterceptFileCreation(ctx context.Context, path, content string) (Decision, error) {
	s := r.Settings()
	if !s.DuplicatePreventionEnabled {
		return Decision{ShouldCreate: true}, nil
	}

	fm, _ := parser.ExtractFrontmatter(content)
	key := fm.SyncKey(r.keyField)
	if key == "" {
		return Decision{ShouldCreate: true}, nil
	}

	if err := clock.Sleep(ctx, r.clock, r.grace); err != nil {
		return Decision{}, fmt.Errorf("resolver: %w", err)
	}

	self := models.NewFile(path).Path
	existing := r.finder.FindAllByKey(key)
	if len(existing) == 0 {
		existing = r.fallbackScan(key, self)
		if len(existing) > 0 {
			r.logger.Warn("resolver: index missed files",
				slog.String("sync_key", key),
				slog.String("files", joinPaths(existing)))
			if s.DebugMode && r.notifier != nil {
				r.notifier.Notify(models.Notice{
					Level:   models.NoticeInfo,
					Title:   "Index miss",
					Message: fmt.Sprintf("Found %d file(s) for %s via fallback search", len(existing), key),
				})
			}
		}
	}

	r.trace(s, "resolver: checking duplicate",
		slog.String("path", self),
		slog.String("sync_key", key),
		slog.Int("existing", len(existing)))

	if len(existing) == 0 {
		return Decision{ShouldCreate: true, SyncKey: key}, nil
	}

	newIsTranscript := r.classifier.IsTranscript(self)
	for _, f := range existing {
		if r.classifier.IsTranscript(f.Path) != newIsTranscript {
			continue
		}
		r.trace(s, "resolver: preventing duplicate",
			slog.String("path", self),
			slog.String("existing", f.Path),
			slog.Bool("transcript", newIsTranscript))
		return Decision{ShouldCreate: false, AlternativePath: f.Path, SyncKey: key}, nil
	}

	r.trace(s, "resolver: allowing, different document classes",
		slog.String("path", self),
		slog.String("existing", joinPaths(existing)))
	return Decision{ShouldCreate: true, SyncKey: key}, nil
}

// fallbackScan compares live metadata of every Markdown document except self.
func (r *Resolver) fallbackScan(key, self string) []models.File {
	var out []models.File
	for _, f := range r.scanner.Files() {
		if !f.IsMarkdown() || f.Path == self {
			continue
		}
		if k, ok := r.scanner.SyncKey(f.Path); ok && k == key {
			out = append(out, f)
		}
	}
	return out
}

func (r *Resolver) trace(s models.Settings, msg string, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if s.DebugMode {
		level = slog.LevelInfo
	}
	r.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func joinPaths(files []models.File) string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return strings.Join(out, ", ")
}
