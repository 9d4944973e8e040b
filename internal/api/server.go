package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/metrics"
	"github.com/opensource-finance/farehawk/internal/monitor"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *monitor.Service, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(repo, cache, bus, svc, m, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Handle("/metrics", m.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Trip ingestion and browsing
		r.Post("/trips", handler.CreateTrips)
		r.Post("/trips/import", handler.ImportTrips)
		r.Post("/trips/sample", handler.LoadSample)
		r.Get("/trips", handler.ListTrips)
		r.Get("/trips/{id}", handler.GetTrip)

		// Detection
		r.Post("/detect", handler.Detect)
		r.Get("/anomalies", handler.Anomalies)
		r.Get("/anomalies/{tripId}", handler.GetAnomaly)
		r.Get("/runs/{id}", handler.GetRun)

		// Dashboard aggregates
		r.Route("/insights", func(r chi.Router) {
			r.Get("/stats", handler.Stats)
			r.Get("/hourly", handler.Hourly)
			r.Get("/charts", handler.Charts)
			r.Get("/efficiency", handler.Efficiency)
		})

		// Heuristic rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reload", handler.ReloadRules)
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
