// Package server implements the Foursight HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Server is the Foursight HTTP API server.
type Server struct {
	runner *runner.Runner
	conn   *connection.Connection
	queue  *queue.Queue
	logger *slog.Logger
	router chi.Router
	addr   string
	srv    *http.Server
}

// New creates a new HTTP server. q may be nil.
func New(cfg types.ServerConfig, r *runner.Runner, conn *connection.Connection, q *queue.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: r,
		conn:   conn,
		queue:  q,
		logger: logger,
		addr:   cfg.Addr,
	}

	rt := chi.NewRouter()
	rt.Use(RequestIDMiddleware)
	rt.Use(RequestLogMiddleware(logger))
	rt.Use(middleware.Recoverer)
	rt.Use(middleware.SetHeader("Content-Type", "application/json"))
	rt.Use(APIKeyMiddleware(cfg.APIKey))
	if cfg.MaxBodySize > 0 {
		rt.Use(MaxBodyMiddleware(cfg.MaxBodySize))
	}

	s.router = rt
	s.registerRoutes(rt)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("foursight server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
