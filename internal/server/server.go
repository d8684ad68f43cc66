// Package server exposes the library index, the download queue and the
// import triggers over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foilbox/foilbox/internal/config"
	"github.com/foilbox/foilbox/internal/download"
	"github.com/foilbox/foilbox/internal/importer"
	"github.com/foilbox/foilbox/internal/library"
	"github.com/foilbox/foilbox/internal/store"
)

// Server is the HTTP front for the library server.
type Server struct {
	store      *store.Store
	queue      *download.Manager
	scanner    *library.Scanner
	registry   *importer.Registry
	processor  *importer.Processor
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance.
func NewServer(
	st *store.Store,
	queue *download.Manager,
	scanner *library.Scanner,
	registry *importer.Registry,
	processor *importer.Processor,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     st,
		queue:     queue,
		scanner:   scanner,
		registry:  registry,
		processor: processor,
		config:    cfg,
		logger:    logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	mux := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        listenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: game downloads stream for a long time.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Served index and file delivery
	mux.HandleFunc("GET /api/index", s.handleIndex)
	mux.HandleFunc("GET /api/get_game/{download_id}", s.handleGetGame)

	// Scan and import triggers (accepted, completed asynchronously)
	mux.HandleFunc("POST /api/rescan", s.handleRescan)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("GET /api/importers", s.handleImporters)

	// Download queue
	mux.HandleFunc("GET /api/downloads", s.handleListDownloads)
	mux.HandleFunc("GET /api/downloads/stats", s.handleDownloadStats)
	mux.HandleFunc("GET /api/downloads/{id}", s.handleGetDownload)
	mux.HandleFunc("DELETE /api/downloads/{id}", s.handleCancelDownload)
	mux.HandleFunc("POST /api/downloads/cleanup", s.handleCleanupDownloads)

	// Settings
	mux.HandleFunc("GET /api/settings/{name}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{name}", s.handlePutSetting)

	return mux
}
