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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/HyServers/hyservers-web/internal/api"
	"github.com/HyServers/hyservers-web/internal/auth"
	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/mcpserver"
	"github.com/HyServers/hyservers-web/internal/redis"
	"github.com/HyServers/hyservers-web/internal/search"
	"github.com/HyServers/hyservers-web/internal/serverservice"
	"github.com/HyServers/hyservers-web/internal/sse"
	"github.com/HyServers/hyservers-web/internal/storage"
	"github.com/HyServers/hyservers-web/internal/store"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	app.level = new(slog.LevelVar)
	app.level.Set(app.config.App.LogLevel)
	return app, nil
}

func (a *application) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{Level: a.level}))
}

// core holds the components shared by every command.
type core struct {
	store   *store.SQLite
	engine  *search.SQLite
	service *serverservice.Service
}

func (c *core) Close() {
	c.engine.Close()
	c.store.Close()
}

func ensureParentDir(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// openCore opens both databases and wires the directory service. A search
// index that cannot be prepared is logged, not fatal: searches degrade and
// mutations report index warnings until it recovers.
func openCore(ctx context.Context, cfg *Config, logger *slog.Logger) (*core, error) {
	for _, p := range []string{cfg.Store.Path, cfg.Search.Path} {
		if err := ensureParentDir(p); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	engine, err := search.Open(cfg.Search.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init search: %w", err)
	}

	projector := index.NewProjector(engine, logger)
	if err := projector.EnsureCollection(ctx); err != nil {
		logger.Warn("search collection unavailable", slog.String("error", err.Error()))
	}
	svc := serverservice.New(db, projector,
		index.NewRebuilder(engine, db, logger),
		index.NewTranslator(engine, cfg.Search.Timeout, logger),
		logger)

	return &core{store: db, engine: engine, service: svc}, nil
}

// openRevoker returns a Redis-backed revoker when Redis is configured and a
// nil revoker (in-memory) otherwise.
func openRevoker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (auth.Revoker, *goredis.Client, error) {
	if !cfg.Enabled() {
		logger.Info("redis not configured, session revocations kept in memory")
		return nil, nil, nil
	}
	client, err := redis.Connect(ctx, redis.ConnectOptions{
		Addr:           cfg.Addr,
		User:           cfg.Username,
		Password:       cfg.Password,
		DB:             cfg.DB,
		ConnectTimeout: cfg.ConnectTimeout,
	}.WithDefaults(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	return auth.NewRedisRevoker(client), client, nil
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("search_path", cfg.Search.Path),
		slog.String("media_path", cfg.Media.Path),
		slog.Bool("redis", cfg.Redis.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.Auth.PasswordHash == "" {
		logger.Warn("auth.password_hash is empty, admin login is disabled")
	}

	c, err := openCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.Search.RebuildOnStart {
		if _, err := c.service.RebuildIndex(ctx); err != nil {
			logger.Warn("startup rebuild failed", slog.String("error", err.Error()))
		}
	}

	revoker, redisClient, err := openRevoker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	sessions, err := auth.NewSessions(auth.Options{
		PasswordHash: cfg.Auth.PasswordHash,
		Secret:       cfg.Auth.JWTSecret,
		TTL:          cfg.Auth.SessionTTL,
		CookieSecure: cfg.Auth.CookieSecure,
	}, revoker, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Media.Path, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	media, err := storage.NewFS(cfg.Media.Path)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}
	mediaHandler := api.NewMediaHandler(media, logger)

	broker := sse.NewBroker(2 * time.Second)
	c.service.SetNotifier(broker)

	apiRouter := api.NewRouter(api.Deps{
		Service:    c.service,
		Sessions:   sessions,
		Media:      mediaHandler,
		Events:     broker,
		LoginLimit: api.DefaultLoginLimit,
		Logger:     logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", health)
	r.Get("/health/ready", health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get(api.MediaURLPrefix+"{name}", mediaHandler.ServeFile)
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if app.configPath != "" {
		g.Go(func() error {
			if err := WatchConfig(gCtx, app.configPath, app.level, logger); err != nil {
				logger.Warn("config watcher disabled", slog.String("error", err.Error()))
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		// SSE streams end when the broker closes.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the config watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RebuildIndex re-derives the search index from the record store and exits.
func RebuildIndex(ctx context.Context, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	logger := app.logger()
	c, err := openCore(ctx, app.config, logger)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return c.service.RebuildIndex(ctx)
}

// ServeMCP serves the directory tools over stdio until the client
// disconnects. Logs go to the configured output, which must not be stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	c, err := openCore(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.service, app.version).ServeStdio()
}
