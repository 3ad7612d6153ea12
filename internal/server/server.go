// Package server provides the HTTP server and routing for the settlement API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/database"
	"github.com/atmx/atmx/internal/metrics"
	contracthandlers "github.com/atmx/atmx/internal/modules/contracts/handlers"
	"github.com/atmx/atmx/internal/modules/events"
	pricinghandlers "github.com/atmx/atmx/internal/modules/pricing/handlers"
	settlementhandlers "github.com/atmx/atmx/internal/modules/settlement/handlers"
	webhookhandlers "github.com/atmx/atmx/internal/modules/webhooks/handlers"
	"github.com/atmx/atmx/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Port       int
	Log        zerolog.Logger
	DataDir    string
	LedgerDB   *database.DB
	RegistryDB *database.DB
	CacheDB    *database.DB

	Contracts   *contracthandlers.Handler
	Settlements *settlementhandlers.Handler
	Pricing     *pricinghandlers.Handler
	Webhooks    *webhookhandlers.Handler
	EventHub    *events.Hub
	Scheduler   *scheduler.Scheduler
	CronJob     scheduler.Job
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.Middleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	systemHandlers := NewSystemHandlers(s.log, s.cfg.DataDir, s.cfg.LedgerDB, s.cfg.RegistryDB, s.cfg.CacheDB, s.cfg.EventHub, s.cfg.Scheduler, s.cfg.CronJob)

	// Health check
	s.router.Get("/health", systemHandlers.HandleHealth)

	// Prometheus metrics
	s.router.Handle("/metrics", metrics.Handler())

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", systemHandlers.HandleSystemStatus)
			r.Post("/jobs/settlement-cron", systemHandlers.HandleTriggerSettlementCron)
		})

		r.Route("/v1", func(r chi.Router) {
			s.cfg.Contracts.RegisterRoutes(r)
			s.cfg.Settlements.RegisterRoutes(r)
			s.cfg.Pricing.RegisterRoutes(r)
			s.cfg.Webhooks.RegisterRoutes(r)

			// Long-lived websocket connection; no request timeout applies.
			r.Get("/events/ws", s.cfg.EventHub.HandleWS)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
