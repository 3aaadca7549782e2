// Package guard decorates the vault's creation primitive so that creating a
// duplicate document returns the existing one instead.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/resolver"
	"github.com/starford/granola-companion/internal/vault"
)

// NoticeDuration is how long a prevented-duplicate warning stays visible.
const NoticeDuration = 10 * time.Second

// Decider is the duplicate check consulted before every creation.
type Decider interface {
	InterceptFileCreation(ctx context.Context, path, content string) (resolver.Decision, error)
}

// Lookup resolves an existing document handle.
type Lookup interface {
	File(path string) (models.File, bool)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(n models.Notice)
}

// Recorder keeps a log of prevented creations.
type Recorder interface {
	RecordPrevented(ctx context.Context, syncKey, attempted, existing string) error
}

// Host owns the creation primitive.
type Host interface {
	Creator() vault.CreateFunc
	SetCreator(fn vault.CreateFunc)
}

// Guard is the interception layer.
type Guard struct {
	decider  Decider
	lookup   Lookup
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	original vault.CreateFunc
	wrapper  vault.CreateFunc
}

// Option configures a Guard.
type Option func(*Guard)

// WithNotifier sets where prevented-duplicate warnings go.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) { g.notifier = n }
}

// WithRecorder sets the journal for prevented creations.
func WithRecorder(r Recorder) Option {
	return func(g *Guard) { g.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates an inactive Guard.
func New(decider Decider, lookup Lookup, opts ...Option) *Guard {
	g := &Guard{
		decider: decider,
		lookup:  lookup,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Install wraps original and returns the wrapper. While active, further calls
// return the same wrapper and ignore their argument.
func (g *Guard) Install(original vault.CreateFunc) vault.CreateFunc {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wrapper != nil {
		return g.wrapper
	}
	g.original = original
	g.wrapper = func(ctx context.Context, path string, content []byte) (models.File, error) {
		return g.create(ctx, original, path, content)
	}
	return g.wrapper
}

// Uninstall deactivates the guard and returns the primitive passed to
// Install, or nil when the guard was not active.
func (g *Guard) Uninstall() vault.CreateFunc {
	g.mu.Lock()
	defer g.mu.Unlock()
	original := g.original
	g.original = nil
	g.wrapper = nil
	return original
}

// Active reports whether the guard is installed.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wrapper != nil
}

// Enable installs the guard on host. It is a no-op when already active.
func (g *Guard) Enable(h Host) {
	if g.Active() {
		return
	}
	h.SetCreator(g.Install(h.Creator()))
	g.logger.Info("guard: file creation intercepted")
}

// Disable restores host's original primitive. It is a no-op when inactive.
func (g *Guard) Disable(h Host) {
	original := g.Uninstall()
	if original == nil {
		return
	}
	h.SetCreator(original)
	g.logger.Info("guard: interception stopped")
}

func (g *Guard) create(ctx context.Context, original vault.CreateFunc, path string, content []byte) (models.File, error) {
	if len(content) == 0 {
		return original(ctx, path, content)
	}

	d, err := g.decider.InterceptFileCreation(ctx, path, string(content))
	if err != nil {
		g.logger.Warn("guard: duplicate check failed, creating anyway",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return original(ctx, path, content)
	}
	if d.ShouldCreate {
		return original(ctx, path, content)
	}

	existing, ok := g.lookup.File(d.AlternativePath)
	if !ok {
		g.logger.Warn("guard: existing document vanished, creating anyway",
			slog.String("path", path),
			slog.String("existing", d.AlternativePath))
		return original(ctx, path, content)
	}
	// The requested path itself holds the key: a path conflict, not a
	// duplicate. The primitive reports it.
	if existing.Path == models.NewFile(path).Path {
		return original(ctx, path, content)
	}

	g.warn(path, existing.Path)
	if g.recorder != nil {
		if err := g.recorder.RecordPrevented(ctx, d.SyncKey, path, existing.Path); err != nil {
			g.logger.Warn("guard: journal write failed", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("guard: duplicate prevented",
		slog.String("attempted", path),
		slog.String("existing", existing.Path),
		slog.String("sync_key", d.SyncKey))
	return existing, nil
}

func (g *Guard) warn(attempted, existing string) {
	if g.notifier == nil {
		return
	}
	g.notifier.Notify(models.Notice{
		Level:    models.NoticeWarning,
		Title:    "Duplicate file prevented",
		Message:  fmt.Sprintf("Attempted: %s\nExisting: %s", attempted, existing),
		Duration: NoticeDuration,
	})
}
