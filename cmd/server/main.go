package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Web3Novalabs/Nixo/service/ai"
	"github.com/Web3Novalabs/Nixo/service/chat"
	"github.com/Web3Novalabs/Nixo/service/config"
	"github.com/Web3Novalabs/Nixo/service/db"
	"github.com/Web3Novalabs/Nixo/service/events"
	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/server"
	"github.com/Web3Novalabs/Nixo/service/starknet"
	"github.com/Web3Novalabs/Nixo/service/swap"
	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/Web3Novalabs/Nixo/service/typhoon"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Database is optional: without it the service runs in-memory only,
	// with no transcript or transfer audit persistence.
	var store *db.Store
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store = db.NewStore(dbPool, m)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply database schema", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, persistence disabled")
	}

	// AI responder and chat sessions
	aiClient, err := ai.NewClient(ai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}, m, logger)
	if err != nil {
		logger.Error("failed to create AI client", "error", err)
		os.Exit(1)
	}
	sessions := chat.NewManager(aiClient, cfg.ChatTimeout, m, logger)

	// Starknet collaborators: wallet signing context and privacy SDK
	provider := starknet.NewProvider(cfg.StarknetRPCURL, nil, logger)
	signer := starknet.NewRemoteSigner(cfg.WalletSignerURL, provider, nil, logger)
	typhoonClient := typhoon.NewClient(cfg.TyphoonAPIURL, nil, logger)
	orchestrator := transfer.NewOrchestrator(typhoonClient, m, logger)

	swapClient := swap.NewClient(cfg.AVNUBaseURL, logger)

	// NATS is optional: without it transfer events are not fanned out and
	// the SSE streaming endpoints are disabled.
	var publisher transfer.Publisher
	var ssePublisher *server.SSEPublisher
	natsPublisher, err := events.NewJetStreamPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Warn("failed to connect to NATS, transfer event streaming disabled", "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("failed to create SSE publisher", "error", err)
			ssePublisher = nil
		}
	}

	httpServer := server.New(cfg.ServerAddr, cfg, sessions, orchestrator, signer, publisher, swapClient, store, ssePublisher, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"openai_model", cfg.OpenAIModel,
		"starknet_rpc", cfg.StarknetRPCURL,
		"typhoon_api", cfg.TyphoonAPIURL,
		"nats_url", cfg.NATSURL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
