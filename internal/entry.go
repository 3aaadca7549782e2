// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/granola-companion/internal/api"
	"github.com/starford/granola-companion/internal/mcpserver"
	"github.com/starford/granola-companion/internal/sse"
	"github.com/starford/granola-companion/internal/vault"
)

// Run starts the HTTP server: REST API, SSE stream, and the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, logCloser := newLogger(cfg.App, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("duplicate_prevention", cfg.Companion.DuplicatePreventionEnabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	st, err := openStack(ctx, cfg, logger, stackOptions{
		notifier: broker,
		onIndex:  broker.PublishDocumentEvent,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	// Host lifecycle events reach SSE clients as document.<kind>.
	for _, kind := range []vault.EventKind{vault.EventCreate, vault.EventDelete, vault.EventRename} {
		st.vault.Subscribe(kind, func(ev vault.Event) {
			broker.PublishDocumentEvent(ev.Kind.String(), ev.File.Path)
		})
	}

	apiRouter := api.NewRouter(st.notes, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !st.core.Index().Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"indexing"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	if cfg.Vault.Watch {
		g.Go(func() error {
			if err := st.vault.Watch(gCtx, st.store.Root()); err != nil {
				return fmt.Errorf("vault watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		// Stops the watcher.
		cancel()

		logger.Info("Shutting down server...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they do
// not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, logCloser := newLogger(cfg.App, os.Stderr)
	defer logCloser.Close()
	slog.SetDefault(logger)

	st, err := openStack(ctx, cfg, logger, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(mctx)
	if cfg.Vault.Watch {
		g.Go(func() error {
			return st.vault.Watch(gCtx, st.store.Root())
		})
	}
	g.Go(func() error {
		// Stdio closed: stop the watcher too.
		defer cancel()
		return mcpserver.New(st.notes, app.version).ServeStdio()
	})
	return g.Wait()
}

// RunStats prints duplicate statistics as JSON.
func RunStats(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	return app.oneShot(ctx, func(st *stack) (any, error) {
		return st.core.DuplicateStats(), nil
	})
}

// RunCleanup deletes all but one document per duplicate group and prints the
// result as JSON. confirmed must be true; the caller asks the user.
func RunCleanup(ctx context.Context, confirmed bool, opts ...Option) error {
	if !confirmed {
		return errors.New("cleanup deletes files: re-run with --yes to confirm")
	}
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	return app.oneShot(ctx, func(st *stack) (any, error) {
		return st.core.DeleteDuplicates(ctx)
	})
}

func (a *application) oneShot(ctx context.Context, fn func(*stack) (any, error)) error {
	logger, logCloser := newLogger(a.config.App, os.Stderr)
	defer logCloser.Close()
	slog.SetDefault(logger)

	st, err := openStack(ctx, a.config, logger, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := fn(st)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
