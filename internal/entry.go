// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/watch"
)

// components holds the wired core shared by every command.
type components struct {
	store  *store.DB
	idx    *index.DB
	co     *ingest.Coordinator
	engine *query.Engine
	logger *slog.Logger
}

func (c *components) close() {
	_ = c.idx.Close()
	_ = c.store.Close()
}

// buildComponents opens the databases and wires the coordinator and
// query engine. notify may be nil.
func buildComponents(cfg *Config, notify ingest.Notifier) (*components, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	for _, p := range []string{cfg.Store.Path, cfg.Index.Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	idx, err := index.Open(cfg.Index.Path, cfg.Index.MinTokenLen)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}

	co := ingest.New(st, idx, logger, notify, ingest.Options{
		Retries:      cfg.Ingest.Retries,
		RetryBackoff: cfg.Ingest.RetryBackoff.Std(),
	})
	engine := query.NewEngine(st, idx, query.Options{
		Timeout:     cfg.Query.Timeout.Std(),
		MaxResults:  cfg.Query.MaxResults,
		MinTokenLen: cfg.Index.MinTokenLen,
	})

	return &components{store: st, idx: idx, co: co, engine: engine, logger: logger}, nil
}

// Run starts the HTTP server and the drop-directory watcher with the
// given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := buildComponents(cfg, broker.PublishLifecycle)
	if err != nil {
		return err
	}
	defer c.close()

	logger := c.logger
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var provider storage.Provider
	if cfg.Watch.Enabled {
		if err := os.MkdirAll(cfg.Watch.Path, 0o755); err != nil {
			return fmt.Errorf("create watch dir: %w", err)
		}
		fsProvider, err := storage.NewFS(cfg.Watch.Path)
		if err != nil {
			return fmt.Errorf("init drop dir: %w", err)
		}
		provider = fsProvider

		// Bulk-import pass before serving.
		if err := watch.Sweep(ctx, c.co, provider, logger); err != nil {
			logger.Warn("initial sweep failed", slog.String("error", err.Error()))
		}
	}

	h := api.NewHandler(c.co, c.store, c.idx, c.engine)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		g.Go(func() error {
			if err := watch.Watch(gCtx, c.co, c.store, provider, cfg.Watch.Path, logger); err != nil {
				logger.Error("watcher error", slog.String("error", err.Error()))
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
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
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

// RunMCP starts the stdio MCP server.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	c, err := buildComponents(app.config, nil)
	if err != nil {
		return err
	}
	defer c.close()

	// MCP owns stdout; route logs to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	srv := mcpserver.New(c.co, c.store, c.idx, c.engine)
	return srv.ServeStdio()
}

// RunRebuild rebuilds the index from the note store and exits.
func RunRebuild(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	c, err := buildComponents(app.config, nil)
	if err != nil {
		return err
	}
	defer c.close()

	return c.co.Rebuild(ctx)
}
