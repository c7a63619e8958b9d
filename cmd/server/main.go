// TruthGuard chat delivery server.
package main

import (
	"context"
	"errors"
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

	"github.com/ashureev/truthguard-chat/internal/api"
	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/config"
	"github.com/ashureev/truthguard-chat/internal/fallback"
	"github.com/ashureev/truthguard-chat/internal/identity"
	"github.com/ashureev/truthguard-chat/internal/middleware"
	"github.com/ashureev/truthguard-chat/internal/session"
	"github.com/ashureev/truthguard-chat/internal/store"
	"github.com/ashureev/truthguard-chat/internal/stream"
	"github.com/ashureev/truthguard-chat/web"
)

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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"container", config.IsContainer(),
		"ai_available", cfg.Chat.AIAvailable,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Delivery tiers share one client; the timeout bounds each remote call.
	client := &http.Client{Timeout: cfg.Chat.RequestTimeout}
	tiers := []chat.Tier{
		chat.NewPrimaryTier(cfg.Chat.PrimaryURL, client),
		chat.NewSecondaryTier(cfg.Chat.SecondaryURL, client),
	}
	seq := chat.NewSequencer(fallback.NewResponder(cfg.Chat.AIAvailable), tiers,
		chat.WithRecorder(repo),
		chat.WithLogger(logger),
		chat.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
	)
	slog.Info("Chat tiers configured", "primary", cfg.Chat.PrimaryURL, "secondary", cfg.Chat.SecondaryURL)

	hub := stream.NewHub()
	sessions := session.NewManager(seq, repo, cfg.SessionTTL,
		session.WithLogger(logger),
		session.WithEvictCallback(hub.CloseSession),
	)

	// Initialize handlers.
	chatHandler := api.NewChatHandler(sessions, repo, cfg)
	defer chatHandler.Close()
	healthHandler := api.NewHealthHandler(repo, sessions, cfg)

	// The stream shares the REST rate limit so switching transports does not
	// reset a user's budget.
	wsLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer wsLimiter.Close()
	wsHandler := stream.NewWebSocketHandler(sessions, hub, wsLimiter, cfg.ModelLabel(), cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg), identity.SessionHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded widget (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.RunSweeper(gctx, cfg.Timeout.SweepInterval)
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins returns the configured frontend origin, or any origin in
// development.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
