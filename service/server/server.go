// Package server exposes the chat, transfer, and swap flows over HTTP:
// an SSE chat endpoint, a transfer execution endpoint driven by the
// session's pending intent, and an SSE stream of transfer progress
// events backed by NATS JetStream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Web3Novalabs/Nixo/service/chat"
	"github.com/Web3Novalabs/Nixo/service/config"
	"github.com/Web3Novalabs/Nixo/service/db"
	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/swap"
	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the chat service.
type Server struct {
	addr         string
	cfg          *config.Config
	sessions     *chat.Manager
	orchestrator *transfer.Orchestrator
	signer       transfer.Signer
	publisher    transfer.Publisher
	swapClient   *swap.Client
	store        *db.Store
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The publisher receives transfer progress events; pass a
// transfer.NopPublisher when NATS is not configured.
// The ssePublisher is optional - if nil, SSE transfer streaming won't be available.
// The store is optional - a nil store disables transcript persistence.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, sessions *chat.Manager, orchestrator *transfer.Orchestrator, signer transfer.Signer, publisher transfer.Publisher, swapClient *swap.Client, store *db.Store, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if publisher == nil {
		publisher = transfer.NopPublisher{}
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		signer:       signer,
		publisher:    publisher,
		swapClient:   swapClient,
		store:        store,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.handler(),
		// No global write timeout: SSE connections are long-lived.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// handler builds the route table. Split out from Start so tests can
// exercise the full mux without binding a port.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	// Chat routes
	mux.Handle("POST /api/v1/chat", handleChat(s.sessions, s.store, s.metrics, s.logger))
	mux.Handle("GET /api/v1/sessions/{session_id}/messages", handleListMessages(s.sessions, s.store, s.logger))
	mux.Handle("GET /api/v1/sessions/{session_id}/transfers", handleListTransfers(s.store, s.logger))

	// Transfer routes
	mux.Handle("POST /api/v1/transfers", handleExecuteTransfer(s.sessions, s.orchestrator, s.signer, s.publisher, s.store, s.logger))

	// Swap routes
	if s.swapClient != nil {
		mux.Handle("GET /api/v1/swap/quote", handleSwapQuote(s.swapClient, s.logger))
		mux.Handle("POST /api/v1/swap", handleExecuteSwap(s.swapClient, s.signer, s.logger))
	}

	// Balance route: a placeholder structure; clients supply real balances
	// with each chat request.
	mux.Handle("GET /api/v1/balances", handleGetBalances(s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/transfers/{session_id}", handleStreamTransferEvents(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transfers", handleStreamTransferEvents(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(metrics.HTTPMetricsMiddleware(s.metrics, mux))
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
