// fx-agent - conversation and trade-proposal gateway for the trading-agent backend
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

	"github.com/HenshawMike/fx-agent/internal/api"
	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/HenshawMike/fx-agent/internal/config"
	"github.com/HenshawMike/fx-agent/internal/identity"
	"github.com/HenshawMike/fx-agent/internal/middleware"
	"github.com/HenshawMike/fx-agent/internal/session"
	"github.com/HenshawMike/fx-agent/internal/store"
	"github.com/HenshawMike/fx-agent/internal/stream"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.BackendURL, "dev", cfg.IsDevelopment())

	// Initialize the transcript archive (optional).
	var repo store.Repository
	var recorder session.Recorder
	if cfg.Archive.Enabled {
		r, err := store.NewSQLite(cfg.Archive.DBPath)
		if err != nil {
			slog.Error("Failed to initialize transcript archive", "error", err)
			os.Exit(1)
		}
		repo = r
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close transcript archive", "error", closeErr)
			}
		}()

		if err := repo.Ping(context.Background()); err != nil {
			slog.Error("Transcript archive health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Transcript archive connected", "path", cfg.Archive.DBPath)

		recorder = store.NewRecorder(repo, logger)
	} else {
		slog.Info("Transcript archive disabled")
	}

	// Backend client for chat, trade execution, and settings relay.
	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.BackendURL,
		ChatTimeout:    cfg.ChatTimeout,
		ExecuteTimeout: cfg.ExecuteTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	// Conversation engine registry.
	sessions := session.NewManager(client, recorder, cfg.SessionTTL, logger)

	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Stop()

	// Initialize handlers.
	chatHandler := api.NewChatHandler(sessions, rateLimiter)
	settingsHandler := api.NewSettingsHandler(client)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := stream.NewHandler(sessions, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Conversation and settings routes.
	chatHandler.RegisterRoutes(r)
	settingsHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversation", wsHandler.ServeHTTP)

	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start the session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let the recorder drain pending archive writes before the DB closes.
	sessions.CloseAll()
	if rec, ok := recorder.(*store.Recorder); ok && rec != nil {
		rec.Wait()
	}

	slog.Info("Server stopped successfully")
}
