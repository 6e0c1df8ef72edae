// Package server implements the HTTP surface of kouba: the MCP Streamable
// HTTP transport, a plain JSON tool-call API and a health endpoint. All tool
// calls go through the dispatcher.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kouba/internal/dispatch"
)

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the kouba HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// DB and MCP are optional (nil = health reports degraded, /mcp is not
// mounted).
type ServerConfig struct {
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger

	DB  Pinger
	MCP http.Handler

	// HTTP server settings.
	Addr                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &handlers{
		dispatcher: cfg.Dispatcher,
		db:         cfg.DB,
		logger:     cfg.Logger,
		version:    cfg.Version,
		startedAt:  time.Now(),
	}

	mux := http.NewServeMux()

	// Tool API. The credential travels in the Authorization or X-API-Key
	// header and is checked by the dispatcher, not by middleware.
	mux.HandleFunc("GET /v1/tools", h.handleListTools)
	mux.HandleFunc("POST /v1/tools/call", h.handleCallTool)

	// MCP Streamable HTTP transport.
	if cfg.MCP != nil {
		mux.Handle("/mcp", cfg.MCP)
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
