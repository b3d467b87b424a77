// Package server exposes the C8 submitter and C1 store over HTTP (spec.md
// §6). It is a thin transport wrapper: every handler delegates the actual
// work to the Submitter, ExecutionStore, and PipelineLoader it is built
// with, translating taxonomy errors to the wire shape the wrapper
// promises callers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/submitter"
)

// Server wraps the HTTP server and its collaborators.
type Server struct {
	submitter *submitter.Submitter
	store     interfaces.ExecutionStore
	loader    interfaces.PipelineLoader
	logger    *common.Logger
	server    *http.Server
}

// New creates the HTTP REST API server bound to host:port.
func New(host string, port int, sub *submitter.Submitter, store interfaces.ExecutionStore, loader interfaces.PipelineLoader, logger *common.Logger) *Server {
	s := &Server{
		submitter: sub,
		store:     store,
		loader:    loader,
		logger:    logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	handler := applyMiddleware(mux, logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting REST API server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
