// Package integration wires the duplicate-prevention core onto the vault:
// index, resolver, interception and the upstream configuration reader, plus
// the user-initiated statistics and cleanup operations.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/starford/granola-companion/internal/clock"
	"github.com/starford/granola-companion/internal/guard"
	"github.com/starford/granola-companion/internal/index"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/parser"
	"github.com/starford/granola-companion/internal/resolver"
	"github.com/starford/granola-companion/internal/syncconfig"
	"github.com/starford/granola-companion/internal/vault"
)

// Config holds the tunables of the core.
type Config struct {
	SyncKeyField string
	ConfigDir    string
	PluginID     string
	IndexDelay   time.Duration
	GracePeriod  time.Duration
	ConfigTTL    time.Duration
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(n models.Notice)
}

// Journal records prevention and cleanup activity.
type Journal interface {
	RecordPrevented(ctx context.Context, syncKey, attempted, existing string) error
	RecordCleanup(ctx context.Context, deleted int, failures []string) error
}

// Service is the composition root of the core.
type Service struct {
	vault    *vault.Vault
	reader   *syncconfig.Reader
	index    *index.Index
	resolver *resolver.Resolver
	guard    *guard.Guard
	notifier Notifier
	journal  Journal
	logger   *slog.Logger
	keyField string

	mu       sync.Mutex
	settings models.Settings
	running  bool
}

// Option configures a Service.
type Option func(*options)

type options struct {
	clock    clock.Clock
	logger   *slog.Logger
	notifier Notifier
	journal  Journal
	onIndex  index.EventCallback
}

// WithClock sets the clock shared by the index, resolver and reader.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotifier sets the user notification surface.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithJournal sets the activity journal.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithIndexCallback observes index mutations.
func WithIndexCallback(fn index.EventCallback) Option {
	return func(o *options) { o.onIndex = fn }
}

// New builds the core over v. Nothing is intercepted until Initialize.
func New(v *vault.Vault, cfg Config, opts ...Option) *Service {
	o := options{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	reader := syncconfig.NewReader(v.Store(),
		syncconfig.WithClock(o.clock),
		syncconfig.WithLogger(o.logger),
		syncconfig.WithConfigDir(cfg.ConfigDir),
		syncconfig.WithPluginID(cfg.PluginID),
		syncconfig.WithTTL(orDefault(cfg.ConfigTTL, syncconfig.DefaultTTL)))

	ix := index.New(v,
		index.WithClock(o.clock),
		index.WithLogger(o.logger),
		index.WithDelay(orDefault(cfg.IndexDelay, index.DefaultDelay)),
		index.WithEventCallback(o.onIndex))

	resOpts := []resolver.Option{
		resolver.WithClock(o.clock),
		resolver.WithLogger(o.logger),
		resolver.WithGracePeriod(orDefault(cfg.GracePeriod, resolver.DefaultGracePeriod)),
	}
	if cfg.SyncKeyField != "" {
		resOpts = append(resOpts, resolver.WithSyncKeyField(cfg.SyncKeyField))
	}
	if o.notifier != nil {
		resOpts = append(resOpts, resolver.WithNotifier(o.notifier))
	}
	res := resolver.New(ix, v, reader, resOpts...)

	guardOpts := []guard.Option{guard.WithLogger(o.logger)}
	if o.notifier != nil {
		guardOpts = append(guardOpts, guard.WithNotifier(o.notifier))
	}
	if o.journal != nil {
		guardOpts = append(guardOpts, guard.WithRecorder(o.journal))
	}

	keyField := cfg.SyncKeyField
	if keyField == "" {
		keyField = parser.KeySyncKey
	}

	return &Service{
		vault:    v,
		reader:   reader,
		index:    ix,
		resolver: res,
		guard:    guard.New(res, v, guardOpts...),
		notifier: o.notifier,
		journal:  o.journal,
		logger:   o.logger,
		keyField: keyField,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Initialize applies settings: the resolver picks them up, the index is
// rebuilt, and interception follows DuplicatePreventionEnabled. It is called
// at startup and again on every settings change.
func (s *Service) Initialize(ctx context.Context, settings models.Settings) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("integration: initialize: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	s.running = true
	s.resolver.SetSettings(settings)
	s.reader.ClearCache()
	s.index.SetDebug(settings.DebugMode)
	s.index.Initialize()

	if settings.DuplicatePreventionEnabled {
		s.guard.Enable(s.vault)
	} else {
		s.guard.Disable(s.vault)
	}

	st := s.index.Stats()
	s.logger.Info("integration: initialized",
		slog.Bool("prevention", settings.DuplicatePreventionEnabled),
		slog.Bool("debug", settings.DebugMode),
		slog.Int("indexed", st.Count))
	if p := s.reader.Plugin(); !p.Available() {
		s.logger.Warn("integration: upstream plugin not available",
			slog.String("plugin", p.ID),
			slog.Bool("installed", p.Installed),
			slog.Bool("enabled", p.Enabled))
	}
	return nil
}

// Stop removes interception and tears the index down. Safe to call twice.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard.Disable(s.vault)
	s.index.Cleanup()
	if s.running {
		s.logger.Info("integration: stopped")
	}
	s.running = false
}

// Settings returns the settings last passed to Initialize.
func (s *Service) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Intercepting reports whether the creation primitive is guarded.
func (s *Service) Intercepting() bool {
	return s.guard.Active()
}

// SyncKeyField is the frontmatter field holding the sync key.
func (s *Service) SyncKeyField() string {
	return s.keyField
}

// Index returns the incremental index.
func (s *Service) Index() *index.Index {
	return s.index
}

// ConfigReader returns the upstream configuration reader.
func (s *Service) ConfigReader() *syncconfig.Reader {
	return s.reader
}

// Resolver returns the duplicate resolver.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

var (
	datedNamePattern = regexp.MustCompile(`- \d{4}-\d{2}-\d{2}`)
	syncKeyPattern   = regexp.MustCompile(`(?i)granola_id:\s*([a-f0-9-]+)`)
)

// IsSyncFile guesses whether a document was produced by the sync process,
// from a dated file name or a sync key in content.
func (s *Service) IsSyncFile(path, content string) bool {
	if datedNamePattern.MatchString(path) {
		return true
	}
	return content != "" && syncKeyPattern.MatchString(content)
}
