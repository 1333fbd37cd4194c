package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/argyakrivos/magrathea/internal/app"
)

// Server manages the HTTP surface over *app.App (§6).
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server
}

// New builds the HTTP server and wires its route table.
func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  application.Config.API.Timeout,
		WriteTimeout: application.Config.API.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := s.server.Addr
	s.app.Logger.Info().Str("address", addr).Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
