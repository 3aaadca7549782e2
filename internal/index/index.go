// Package index keeps an in-memory, event-driven map from sync key to the
// documents carrying it, so duplicate checks never rescan the vault.
package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/vault"
)

// DefaultDelay is how long create and rename events wait for the host's
// metadata recomputation before the document is indexed.
const DefaultDelay = 100 * time.Millisecond

// Callback kinds.
const (
	KindIndexed   = "indexed"
	KindUnindexed = "unindexed"
)

// Source is the host surface the index reads from and listens to.
type Source interface {
	Files() []models.File
	SyncKey(path string) (string, bool)
	Subscribe(kind vault.EventKind, h vault.Handler) vault.Ref
	Unsubscribe(ref vault.Ref)
}

// Verify *vault.Vault satisfies Source at compile time.
var _ Source = (*vault.Vault)(nil)

// EventCallback observes index mutations.
type EventCallback func(kind, path string)

// State is the lifecycle state of an Index.
type State int

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Index maps sync keys to document handles. A key may be held by several
// documents (a note and its transcript); a path is in at most one bucket.
type Index struct {
	src     Source
	clock   clock.Clock
	logger  *slog.Logger
	delay   time.Duration
	debug   atomic.Bool
	onEvent EventCallback

	mu     sync.RWMutex
	byKey  map[string][]models.File
	byPath map[string]string
	state  State
	refs   []vault.Ref
}

// Option configures an Index.
type Option func(*Index)

// WithClock sets the clock used for delayed indexing.
func WithClock(c clock.Clock) Option {
	return func(ix *Index) { ix.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithDelay sets the create/rename indexing delay.
func WithDelay(d time.Duration) Option {
	return func(ix *Index) { ix.delay = d }
}

// WithDebug logs every index event at info level.
func WithDebug(on bool) Option {
	return func(ix *Index) { ix.debug.Store(on) }
}

// WithEventCallback registers fn for indexed/unindexed notifications.
func WithEventCallback(fn EventCallback) Option {
	return func(ix *Index) { ix.onEvent = fn }
}

// New creates an uninitialized index over src.
func New(src Source, opts ...Option) *Index {
	ix := &Index{
		src:    src,
		clock:  clock.New(),
		logger: slog.Default(),
		delay:  DefaultDelay,
		byKey:  make(map[string][]models.File),
		byPath: make(map[string]string),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Initialize discards any previous state, seeds the index with one full pass
// over the source, and subscribes to host events.
func (ix *Index) Initialize() {
	ix.Cleanup()

	ix.mu.Lock()
	ix.state = StateBuilding
	ix.mu.Unlock()

	byKey, byPath := ix.scan()
	files, keys := len(byPath), len(byKey)

	ix.mu.Lock()
	ix.byKey = byKey
	ix.byPath = byPath
	ix.mu.Unlock()

	refs := []vault.Ref{
		ix.src.Subscribe(vault.EventCreate, ix.onCreate),
		ix.src.Subscribe(vault.EventDelete, ix.onDelete),
		ix.src.Subscribe(vault.EventRename, ix.onRename),
		ix.src.Subscribe(vault.EventChanged, ix.onChanged),
	}

	ix.mu.Lock()
	ix.refs = refs
	ix.state = StateReady
	ix.mu.Unlock()

	ix.logger.Info("index: initialized",
		slog.Int("files", files),
		slog.Int("keys", keys))
}

// Cleanup unsubscribes from the host and empties the index. Timers already
// scheduled still fire but do nothing while the index is not ready.
func (ix *Index) Cleanup() {
	ix.mu.Lock()
	refs := ix.refs
	wasReady := ix.state == StateReady
	ix.refs = nil
	ix.byKey = make(map[string][]models.File)
	ix.byPath = make(map[string]string)
	ix.state = StateUninitialized
	ix.mu.Unlock()

	for _, ref := range refs {
		ix.src.Unsubscribe(ref)
	}
	if wasReady {
		ix.trace("index: cleaned up")
	}
}

// SetDebug switches event logging between debug and info level.
func (ix *Index) SetDebug(on bool) {
	ix.debug.Store(on)
}

// Ready reports whether the index is serving events.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state == StateReady
}

// IndexFile upserts f from the source's current metadata. It is idempotent:
// a changed or vanished key moves or drops the handle.
func (ix *Index) IndexFile(f models.File) {
	if !f.IsMarkdown() {
		return
	}
	key, ok := ix.src.SyncKey(f.Path)

	ix.mu.Lock()
	indexed, unindexed := upsert(ix.byKey, ix.byPath, f, key, ok)
	ix.mu.Unlock()

	if unindexed {
		ix.notify(KindUnindexed, f.Path)
	}
	if indexed {
		ix.notify(KindIndexed, f.Path)
	}
}

func (ix *Index) unindex(p string) {
	ix.mu.Lock()
	key, ok := ix.byPath[p]
	if ok {
		removeFromBucket(ix.byKey, key, p)
		delete(ix.byPath, p)
	}
	ix.mu.Unlock()

	if ok {
		ix.notify(KindUnindexed, p)
	}
}

func (ix *Index) onCreate(ev vault.Event) {
	if !ev.File.IsMarkdown() {
		return
	}
	ix.trace("index: file created", slog.String("path", ev.File.Path))
	ix.indexLater(ev.File)
}

func (ix *Index) onDelete(ev vault.Event) {
	ix.trace("index: file deleted", slog.String("path", ev.File.Path))
	ix.unindex(ev.File.Path)
}

func (ix *Index) onRename(ev vault.Event) {
	ix.trace("index: file renamed", slog.String("from", ev.OldPath), slog.String("to", ev.File.Path))
	ix.unindex(ev.OldPath)
	if ev.File.IsMarkdown() {
		ix.indexLater(ev.File)
	}
}

func (ix *Index) onChanged(ev vault.Event) {
	if !ev.File.IsMarkdown() {
		return
	}
	ix.trace("index: metadata changed", slog.String("path", ev.File.Path))
	ix.IndexFile(ev.File)
}

func (ix *Index) indexLater(f models.File) {
	ix.clock.AfterFunc(ix.delay, func() {
		if ix.Ready() {
			ix.IndexFile(f)
		}
	})
}

// scan reads the sync key of every Markdown document in the source.
func (ix *Index) scan() (map[string][]models.File, map[string]string) {
	byKey := make(map[string][]models.File)
	byPath := make(map[string]string)
	for _, f := range ix.src.Files() {
		if !f.IsMarkdown() {
			continue
		}
		key, ok := ix.src.SyncKey(f.Path)
		upsert(byKey, byPath, f, key, ok)
	}
	return byKey, byPath
}

func (ix *Index) notify(kind, p string) {
	if ix.onEvent != nil {
		ix.onEvent(kind, p)
	}
}

func (ix *Index) trace(msg string, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if ix.debug.Load() {
		level = slog.LevelInfo
	}
	ix.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func upsert(byKey map[string][]models.File, byPath map[string]string, f models.File, key string, hasKey bool) (indexed, unindexed bool) {
	if old, had := byPath[f.Path]; had && (!hasKey || old != key) {
		removeFromBucket(byKey, old, f.Path)
		delete(byPath, f.Path)
		unindexed = true
	}
	if !hasKey {
		return indexed, unindexed
	}
	byPath[f.Path] = key
	for _, existing := range byKey[key] {
		if existing.Path == f.Path {
			return indexed, unindexed
		}
	}
	byKey[key] = append(byKey[key], f)
	return true, unindexed
}

func removeFromBucket(byKey map[string][]models.File, key, p string) {
	bucket := byKey[key]
	for i, f := range bucket {
		if f.Path == p {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(byKey, key)
		return
	}
	byKey[key] = bucket
}
