// Package syncconfig reads the upstream sync plugin's persisted settings and
// classifies documents as notes or transcripts from them.
package syncconfig

import (
	"encoding/json"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/starford/granola-companion/internal/clock"
)

// Defaults for locating the upstream configuration.
const (
	DefaultConfigDir = ".obsidian"
	DefaultPluginID  = "granola-sync"
	DefaultTTL       = 5 * time.Second
)

// Adapter is the slice of the host storage layer the reader needs. Paths are
// relative to the vault root.
type Adapter interface {
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
}

// Reader loads and caches the upstream settings.
type Reader struct {
	adapter   Adapter
	clock     clock.Clock
	logger    *slog.Logger
	configDir string
	pluginID  string
	ttl       time.Duration

	mu       sync.Mutex
	cached   *Settings
	lastRead time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock sets the clock used for cache expiry.
func WithClock(c clock.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithConfigDir sets the host configuration directory.
func WithConfigDir(dir string) Option {
	return func(r *Reader) {
		if dir != "" {
			r.configDir = dir
		}
	}
}

// WithPluginID sets the upstream plugin identifier.
func WithPluginID(id string) Option {
	return func(r *Reader) {
		if id != "" {
			r.pluginID = id
		}
	}
}

// WithTTL sets how long a successful read is reused.
func WithTTL(d time.Duration) Option {
	return func(r *Reader) { r.ttl = d }
}

// NewReader creates a Reader over adapter.
func NewReader(adapter Adapter, opts ...Option) *Reader {
	r := &Reader{
		adapter:   adapter,
		clock:     clock.New(),
		logger:    slog.Default(),
		configDir: DefaultConfigDir,
		pluginID:  DefaultPluginID,
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the location of the upstream data file.
func (r *Reader) Path() string {
	return path.Join(r.configDir, "plugins", r.pluginID, "data.json")
}

// Settings returns the upstream settings merged over defaults, or nil when the
// file is missing or unreadable.
func (r *Reader) Settings() *Settings {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.cached != nil && now.Sub(r.lastRead) < r.ttl {
		return r.cached
	}

	p := r.Path()
	ok, err := r.adapter.Exists(p)
	if err != nil {
		r.logger.Warn("syncconfig: stat failed", slog.String("path", p), slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		r.logger.Warn("syncconfig: upstream config not found", slog.String("path", p))
		return nil
	}
	data, err := r.adapter.Read(p)
	if err != nil {
		r.logger.Warn("syncconfig: read failed", slog.String("path", p), slog.String("error", err.Error()))
		return nil
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Warn("syncconfig: parse failed", slog.String("path", p), slog.String("error", err.Error()))
		return nil
	}

	r.cached = &s
	r.lastRead = now
	return r.cached
}

// ClearCache forces the next Settings call to read storage.
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.lastRead = time.Time{}
}

// TranscriptSyncEnabled reports whether upstream writes transcripts.
func (r *Reader) TranscriptSyncEnabled() bool {
	s := r.Settings()
	return s != nil && s.SyncTranscripts
}

// TranscriptFolder returns the folder transcripts are written to. It reports
// false when transcript sync is off or a custom location has no folder.
func (r *Reader) TranscriptFolder() (string, bool) {
	s := r.Settings()
	if s == nil || !s.SyncTranscripts {
		return "", false
	}
	if s.TranscriptHandling == TranscriptCustomLocation {
		return s.CustomTranscriptBaseFolder, s.CustomTranscriptBaseFolder != ""
	}
	return notesFolder(s), true
}

// NotesFolder returns the folder notes are written to; "/" is the vault root.
func (r *Reader) NotesFolder() string {
	return notesFolder(r.Settings())
}

func notesFolder(s *Settings) string {
	if s == nil || s.BaseFolderType != BaseFolderCustom || s.CustomBaseFolder == "" {
		return "/"
	}
	return s.CustomBaseFolder
}

// IsTranscript classifies p. With transcript sync enabled and a custom
// transcript folder configured, anything under that folder is a transcript;
// otherwise a file whose name contains "transcript" is.
func (r *Reader) IsTranscript(p string) bool {
	normalized := strings.ToLower(strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/"))

	s := r.Settings()
	if s != nil && s.SyncTranscripts &&
		s.TranscriptHandling == TranscriptCustomLocation && s.CustomTranscriptBaseFolder != "" {
		folder := strings.ToLower(strings.Trim(s.CustomTranscriptBaseFolder, "/"))
		if strings.HasPrefix(normalized, folder+"/") {
			return true
		}
	}
	return strings.Contains(path.Base(normalized), "transcript")
}

// IsNote is the complement of IsTranscript.
func (r *Reader) IsNote(p string) bool {
	return !r.IsTranscript(p)
}
