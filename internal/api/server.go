package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, metricsCfg domain.MetricsConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)    // CORS for browser clients
	router.Use(RecoverMiddleware) // Recover from panics
	router.Use(TracingMiddleware) // OpenTelemetry tracing
	router.Use(LoggingMiddleware) // Request logging
	if deps.Metrics != nil {
		router.Use(MetricsMiddleware(deps.Metrics))
	}
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	if deps.Metrics != nil && metricsCfg.Enabled {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics.Handler())
	}

	// API routes (tenant scoped)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Message analysis
		r.Post("/analyze", handler.Analyze)
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Community input
		r.Post("/feedback", handler.SubmitFeedback)
		r.Post("/report-scam", handler.ReportScam)

		// Lookups
		r.Get("/domains/{domain}", handler.GetDomain)
		r.Get("/stats", handler.GetStats)
		r.Get("/rules", handler.ListRules)
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
