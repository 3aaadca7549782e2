package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/granola-companion/internal/index"
	"github.com/starford/granola-companion/internal/integration"
	"github.com/starford/granola-companion/internal/journal"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/noteservice"
	"github.com/starford/granola-companion/internal/storage"
	"github.com/starford/granola-companion/internal/vault"
)

// newLogger builds the JSON logger. Records go to console and, when
// configured, to a rotating file. The returned closer releases the file.
func newLogger(cfg ApplicationConfig, console io.Writer) (*slog.Logger, io.Closer) {
	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		writers = append(writers, file)
		closer = file
	}
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logNotifier shows notices as log records when no client is attached.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(x models.Notice) {
	n.logger.Info("notice: "+x.Title,
		slog.String("level", string(x.Level)),
		slog.String("message", x.Message))
}

// stack is the wired document host plus the duplicate-prevention core.
type stack struct {
	store   *storage.FS
	vault   *vault.Vault
	journal *journal.DB
	core    *integration.Service
	notes   *noteservice.Service
}

type stackOptions struct {
	notifier integration.Notifier
	onIndex  index.EventCallback
}

// openStack loads the vault, opens the journal and initializes the core with
// the configured settings.
func openStack(ctx context.Context, cfg *Config, logger *slog.Logger, so stackOptions) (*stack, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	v := vault.New(store,
		vault.WithLogger(logger),
		vault.WithSyncKeyField(cfg.Companion.SyncKeyField),
		vault.WithMetadataDelay(cfg.Companion.MetadataDelay))
	if err := v.Load(); err != nil {
		return nil, fmt.Errorf("load vault: %w", err)
	}

	db, err := journal.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	notifier := so.notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	core := integration.New(v, cfg.Companion.Integration(cfg.Vault.ConfigDir),
		integration.WithLogger(logger),
		integration.WithNotifier(notifier),
		integration.WithJournal(db),
		integration.WithIndexCallback(so.onIndex))
	if err := core.Initialize(ctx, cfg.Companion.Settings()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init core: %w", err)
	}

	return &stack{
		store:   store,
		vault:   v,
		journal: db,
		core:    core,
		notes:   noteservice.NewService(v, core, db),
	}, nil
}

// Close stops the core and closes the journal.
func (s *stack) Close() {
	s.core.Stop()
	if err := s.journal.Close(); err != nil {
		slog.Warn("journal close failed", slog.String("error", err.Error()))
	}
}
