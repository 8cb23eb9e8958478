// INSTRROL 2K26 - event site backend: FAQ assistant and PLC ladder puzzle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/isoi-kec/instrrol/internal/api"
	"github.com/isoi-kec/instrrol/internal/chat"
	"github.com/isoi-kec/instrrol/internal/config"
	"github.com/isoi-kec/instrrol/internal/faq"
	"github.com/isoi-kec/instrrol/internal/identity"
	"github.com/isoi-kec/instrrol/internal/ladder"
	"github.com/isoi-kec/instrrol/internal/live"
	"github.com/isoi-kec/instrrol/internal/middleware"
	"github.com/isoi-kec/instrrol/internal/session"
	"github.com/isoi-kec/instrrol/internal/store"
	"github.com/isoi-kec/instrrol/internal/sweeper"
	"github.com/isoi-kec/instrrol/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

// app holds the wired dependencies behind the router.
type app struct {
	repo        store.Repository
	visits      *session.Registry
	conns       *live.ConnManager
	matcher     *faq.Matcher
	levels      []ladder.Level
	transcripts chat.TranscriptLogger
}

func newApp(cfg *config.Config, repo store.Repository, logger *slog.Logger) (*app, error) {
	table, err := faq.DefaultTable()
	if err != nil {
		return nil, fmt.Errorf("load faq rules: %w", err)
	}
	matcher := faq.NewMatcher(table)

	levels, err := ladder.DefaultLevels()
	if err != nil {
		return nil, fmt.Errorf("load levels: %w", err)
	}

	transcripts, err := chat.NewTranscriptLogger(chat.LogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize transcript logger: %w", err)
	}

	visits, err := session.NewRegistry(session.Config{
		Responder:   matcher,
		Greeting:    matcher.Greeting(),
		Levels:      levels,
		Recorder:    repo,
		Transcripts: transcripts,
	})
	if err != nil {
		_ = transcripts.Close()
		return nil, fmt.Errorf("initialize visit registry: %w", err)
	}

	return &app{
		repo:        repo,
		visits:      visits,
		conns:       live.NewConnManager(),
		matcher:     matcher,
		levels:      levels,
		transcripts: transcripts,
	}, nil
}

func (a *app) close() {
	a.visits.Close()
	if err := a.transcripts.Close(); err != nil {
		slog.Error("Failed to close transcript logger", "error", err)
	}
}

func (a *app) router(cfg *config.Config) http.Handler {
	base := api.NewHandler(a.repo, a.visits)
	systemHandler := api.NewSystemHandler(base, cfg.SessionTTL)
	chatHandler := api.NewChatHandler(base, a.matcher, cfg.ChatRateLimit, cfg.ChatRateBurst)
	gameHandler := api.NewGameHandler(base, a.levels)
	liveHandler := live.NewHandler(a.repo, a.visits, a.conns, cfg.AllowedOrigins, cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Routes with visitor identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(a.repo, cfg.IsDevelopment()))

		r.Route("/api", func(r chi.Router) {
			systemHandler.RegisterRoutes(r)
			chatHandler.RegisterRoutes(r)
			gameHandler.RegisterRoutes(r)
		})

		r.Get("/ws/live", liveHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	return r
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	a, err := newApp(cfg, repo, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// No WriteTimeout: /ws/live connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Hijacked WebSocket connections outlive Shutdown; closing the visits ends them.
	srv.RegisterOnShutdown(a.visits.Close)

	sw := sweeper.New(sweeper.Config{
		Interval:         cfg.SweepInterval,
		SessionTTL:       cfg.SessionTTL,
		VisitorRetention: cfg.VisitorRetention,
	}, a.visits, repo)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sw.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
