// Package vault is the document host: it owns the Markdown files on disk, a
// derived metadata cache recomputed asynchronously after every write, an event
// bus (create, delete, rename, changed), and the creation primitive that
// extensions may decorate.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/granola-companion/internal/apperr"
	"github.com/starford/granola-companion/internal/checksum"
	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/parser"
	"github.com/starford/granola-companion/internal/storage"
)

// DefaultMetadataDelay is how long the metadata cache lags behind a write.
const DefaultMetadataDelay = 25 * time.Millisecond

// CreateFunc is the document-creation primitive.
type CreateFunc func(ctx context.Context, path string, content []byte) (models.File, error)

// entry is the metadata cache record for one document.
type entry struct {
	file     models.File
	checksum string
	meta     *parser.Result // nil until resolved
}

// Vault is the host application's document layer.
type Vault struct {
	store         storage.Provider
	clock         clock.Clock
	logger        *slog.Logger
	keyField      string
	metadataDelay time.Duration

	mu    sync.RWMutex
	files map[string]*entry

	busMu   sync.RWMutex
	subs    map[EventKind]map[int]Handler
	nextSub int

	createMu sync.RWMutex
	creator  CreateFunc
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock sets the clock used to schedule metadata recomputation.
func WithClock(c clock.Clock) Option {
	return func(v *Vault) { v.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithMetadataDelay sets the lag between a write and its changed event.
func WithMetadataDelay(d time.Duration) Option {
	return func(v *Vault) { v.metadataDelay = d }
}

// WithSyncKeyField sets the frontmatter field exposed by SyncKey.
func WithSyncKeyField(field string) Option {
	return func(v *Vault) { v.keyField = field }
}

// New creates a vault over store. Call Load before use.
func New(store storage.Provider, opts ...Option) *Vault {
	v := &Vault{
		store:         store,
		clock:         clock.New(),
		logger:        slog.Default(),
		keyField:      parser.KeySyncKey,
		metadataDelay: DefaultMetadataDelay,
		files:         make(map[string]*entry),
		subs:          make(map[EventKind]map[int]Handler),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.creator = v.createFile
	return v
}

// Store returns the underlying storage adapter.
func (v *Vault) Store() storage.Provider {
	return v.store
}

// Load reads every document and computes its metadata synchronously. No
// events are emitted.
func (v *Vault) Load() error {
	metas, err := v.store.List("")
	if err != nil {
		return fmt.Errorf("vault: load: %w", err)
	}
	files := make(map[string]*entry, len(metas))
	for _, m := range metas {
		data, err := v.store.Read(m.Path)
		if err != nil {
			v.logger.Warn("vault: load read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		res, _ := parser.Parse(data)
		files[m.Path] = &entry{file: models.NewFile(m.Path), checksum: checksum.Sum(data), meta: res}
	}

	v.mu.Lock()
	v.files = files
	v.mu.Unlock()

	v.logger.Info("vault: loaded", slog.Int("files", len(files)))
	return nil
}

// Files returns every known document sorted by path.
func (v *Vault) Files() []models.File {
	v.mu.RLock()
	out := make([]models.File, 0, len(v.files))
	for _, e := range v.files {
		out = append(out, e.file)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// File looks up the handle for path.
func (v *Vault) File(path string) (models.File, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.files[models.NewFile(path).Path]
	if !ok {
		return models.File{}, false
	}
	return e.file, true
}

// Metadata returns the cached parse result for path. It reports false while
// the metadata has not been computed yet.
func (v *Vault) Metadata(path string) (*parser.Result, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.files[path]
	if !ok || e.meta == nil {
		return nil, false
	}
	return e.meta, true
}

// SyncKey returns the sync key currently in path's cached metadata.
func (v *Vault) SyncKey(path string) (string, bool) {
	res, ok := v.Metadata(path)
	if !ok {
		return "", false
	}
	return res.String(v.keyField)
}

// Read returns the raw content of path.
func (v *Vault) Read(path string) ([]byte, error) {
	data, err := v.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Creator returns the current creation primitive.
func (v *Vault) Creator() CreateFunc {
	v.createMu.RLock()
	defer v.createMu.RUnlock()
	return v.creator
}

// SetCreator replaces the creation primitive used by Create. Passing nil
// restores the built-in primitive.
func (v *Vault) SetCreator(fn CreateFunc) {
	v.createMu.Lock()
	defer v.createMu.Unlock()
	if fn == nil {
		fn = v.createFile
	}
	v.creator = fn
}

// Create creates a document through the current creation primitive.
func (v *Vault) Create(ctx context.Context, path string, content []byte) (models.File, error) {
	return v.Creator()(ctx, path, content)
}

// createFile is the built-in creation primitive.
func (v *Vault) createFile(ctx context.Context, path string, content []byte) (models.File, error) {
	if err := ctx.Err(); err != nil {
		return models.File{}, err
	}
	f, err := validPath(path)
	if err != nil {
		return models.File{}, err
	}
	v.mu.Lock()
	if _, ok := v.files[f.Path]; ok {
		v.mu.Unlock()
		return models.File{}, apperr.ErrAlreadyExists
	}
	// Recorded before the write so the watcher recognises its own echo.
	v.files[f.Path] = &entry{file: f, checksum: checksum.Sum(content)}
	v.mu.Unlock()

	// Fails on files the vault has not seen yet, e.g. written by another
	// process since the last watcher event.
	if err := v.store.Create(f.Path, content); err != nil {
		v.mu.Lock()
		delete(v.files, f.Path)
		v.mu.Unlock()
		return models.File{}, err
	}

	v.emit(Event{Kind: EventCreate, File: f})
	v.scheduleMetadata(f.Path)
	return f, nil
}

// Modify replaces the content of an existing document.
func (v *Vault) Modify(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := models.NewFile(path)

	v.mu.Lock()
	e, ok := v.files[f.Path]
	if !ok {
		v.mu.Unlock()
		return apperr.ErrNotFound
	}
	prev := e.checksum
	e.checksum = checksum.Sum(content)
	v.mu.Unlock()

	if err := v.store.Write(f.Path, content); err != nil {
		v.mu.Lock()
		e.checksum = prev
		v.mu.Unlock()
		return err
	}
	v.scheduleMetadata(f.Path)
	return nil
}

// Delete removes a document.
func (v *Vault) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := models.NewFile(path)

	v.mu.Lock()
	e, ok := v.files[f.Path]
	if !ok {
		v.mu.Unlock()
		return apperr.ErrNotFound
	}
	delete(v.files, f.Path)
	v.mu.Unlock()

	if err := v.store.Delete(f.Path); err != nil {
		v.mu.Lock()
		v.files[f.Path] = e
		v.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}

	v.emit(Event{Kind: EventDelete, File: e.file})
	return nil
}

// Rename moves a document to newPath, keeping its metadata.
func (v *Vault) Rename(ctx context.Context, oldPath, newPath string) (models.File, error) {
	if err := ctx.Err(); err != nil {
		return models.File{}, err
	}
	from := models.NewFile(oldPath)
	to, err := validPath(newPath)
	if err != nil {
		return models.File{}, err
	}
	if ok, err := v.store.Exists(to.Path); err != nil {
		return models.File{}, err
	} else if ok {
		return models.File{}, apperr.ErrAlreadyExists
	}

	v.mu.Lock()
	e, ok := v.files[from.Path]
	if !ok {
		v.mu.Unlock()
		return models.File{}, apperr.ErrNotFound
	}
	if _, taken := v.files[to.Path]; taken {
		v.mu.Unlock()
		return models.File{}, apperr.ErrAlreadyExists
	}
	moved := &entry{file: to, checksum: e.checksum, meta: e.meta}
	delete(v.files, from.Path)
	v.files[to.Path] = moved
	v.mu.Unlock()

	if err := v.store.Move(from.Path, to.Path); err != nil {
		v.mu.Lock()
		delete(v.files, to.Path)
		v.files[from.Path] = e
		v.mu.Unlock()
		return models.File{}, err
	}

	v.emit(Event{Kind: EventRename, File: to, OldPath: from.Path})
	return to, nil
}

// scheduleMetadata recomputes path's metadata after the configured delay and
// emits a changed event.
func (v *Vault) scheduleMetadata(path string) {
	v.clock.AfterFunc(v.metadataDelay, func() {
		v.resolveMetadata(path)
	})
}

func (v *Vault) resolveMetadata(path string) {
	data, err := v.store.Read(path)
	if err != nil {
		v.logger.Debug("vault: metadata read skipped", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	res, _ := parser.Parse(data)

	v.mu.Lock()
	e, ok := v.files[path]
	if !ok {
		v.mu.Unlock()
		return
	}
	e.meta = res
	e.checksum = checksum.Sum(data)
	f := e.file
	v.mu.Unlock()

	v.emit(Event{Kind: EventChanged, File: f})
}

func validPath(p string) (models.File, error) {
	f := models.NewFile(p)
	if f.Path == "" || strings.HasPrefix(path.Base(f.Path), ".") {
		return models.File{}, fmt.Errorf("%w: %q", apperr.ErrInvalidPath, p)
	}
	if f.Extension == "" {
		return models.File{}, fmt.Errorf("%w: %q has no extension", apperr.ErrInvalidPath, p)
	}
	return f, nil
}
