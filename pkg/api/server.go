package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

const shutdownCtxTimeout = 10 * time.Second

// Server represents the API HTTP server.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates a new API server.
func NewServer(cfg *config.APIConfig, pipeline Pipeline, log *logger.Logger) *Server {
	handler := NewHandler(pipeline, log)

	mux := http.NewServeMux()

	// Health endpoint
	mux.HandleFunc("GET /health", handler.Health)

	// Account state queries
	mux.HandleFunc("GET /api/v1/accounts", handler.ListAccounts)
	mux.HandleFunc("GET /api/v1/accounts/{account}", handler.GetAccount)

	// Pipeline introspection
	mux.HandleFunc("GET /api/v1/stats", handler.GetStats)
	mux.HandleFunc("GET /api/v1/subscribers", handler.ListSubscribers)

	// Streaming endpoint
	mux.HandleFunc("GET /api/v1/stream", handler.Stream)

	// Apply middleware
	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	// Use configured timeouts (defaults already applied in config.ApplyDefaults)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

// Start starts the API server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infof("Starting API server on %s", s.config.ListenAddress)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("API server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("Shutting down API server...")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}
