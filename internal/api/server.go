// Package api implements the Magpie HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/scan"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, detector *scan.Detector, version string) *Server {
	handler := NewHandler(repo, cache, bus, detector, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no organization required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (organization required)
	router.Route("/", func(r chi.Router) {
		r.Use(OrgMiddleware)

		// Detection
		r.Post("/scan", handler.Scan)
		r.Post("/scan/async", handler.ScanAsync)

		// Duplicate review
		r.Get("/duplicates", handler.ListDuplicates)
		r.Get("/duplicates/{id}", handler.GetDuplicate)
		r.Patch("/duplicates/{id}", handler.UpdateDuplicateStatus)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DisableRule)

		// Record ingestion
		r.Put("/records/{entityType}/{id}", handler.PutRecord)
		r.Get("/records/{entityType}/{id}", handler.GetRecord)
		r.Delete("/records/{entityType}/{id}", handler.DeleteRecord)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
