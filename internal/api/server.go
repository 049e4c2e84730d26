// Package api exposes the management HTTP interface: alert triage, event
// ingestion, statistics, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ubaguard/ubaguard/internal/alerts"
	"github.com/ubaguard/ubaguard/internal/coordinator"
	"github.com/ubaguard/ubaguard/internal/engine"
	"github.com/ubaguard/ubaguard/internal/storage"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr            string        // listen address (default: ":8080")
	ReadTimeout     time.Duration // default: 10s
	WriteTimeout    time.Duration // default: 30s
	ShutdownTimeout time.Duration // default: 10s
	IngestRate      float64       // events endpoint requests/sec (default: 50)
	IngestBurst     int           // default: 100
}

// DefaultConfig returns default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		IngestRate:      50,
		IngestBurst:     100,
	}
}

// Server is the management HTTP server.
type Server struct {
	cfg      Config
	pipeline *engine.Engine
	alertMgr *alerts.Manager
	coord    *coordinator.Coordinator
	store    storage.Storage
	log      *logrus.Entry

	limiter *rate.Limiter
	httpSrv *http.Server
}

// NewServer creates the management server.
func NewServer(cfg Config, pipeline *engine.Engine, alertMgr *alerts.Manager, coord *coordinator.Coordinator, store storage.Storage, log *logrus.Entry) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = 50
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = 100
	}
	if log == nil {
		log = logrus.WithField("component", "api")
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		alertMgr: alertMgr,
		coord:    coord,
		store:    store,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// router builds the route tree.
func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.ingestRateLimit).Post("/events", s.handleIngestEvents)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/statistics", s.handleStatistics)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAlert)
				r.Get("/notifications", s.handleAlertNotifications)
				r.Post("/acknowledge", s.handleAcknowledge)
				r.Post("/close", s.handleCloseAlert)
			})
		})

		r.Get("/performance", s.handlePerformance)
		r.Get("/collectors", s.handleCollectors)
		r.Post("/collectors/collect", s.handleForceCollection)
	})
	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.cfg.Addr).Info("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// ingestRateLimit sheds ingest load beyond the configured rate.
func (s *Server) ingestRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondJSON writes a JSON response body with the given status.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError writes a JSON error envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
