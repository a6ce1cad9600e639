package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/edgemetrics/internal/actor"
	mw "github.com/edvin/edgemetrics/internal/api/middleware"
	"github.com/edvin/edgemetrics/internal/config"
)

// Exporter serves the assembled metrics feed. It must not block on live
// upstream calls beyond the fleet's own self-healing bootstrap.
type Exporter interface {
	Export(ctx context.Context) string
}

type Server struct {
	router chi.Router
	logger zerolog.Logger
	fleet  Exporter
	store  actor.StateStore
	cfg    *config.Config
}

func NewServer(logger zerolog.Logger, fleet Exporter, store actor.StateStore, cfg *config.Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		fleet:  fleet,
		store:  store,
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// The serialized feed, optionally behind basic auth.
	s.router.Group(func(r chi.Router) {
		r.Use(mw.BasicAuth(s.cfg.MetricsUsername, s.cfg.MetricsPassword))
		r.Get("/metrics", s.handleMetrics)
	})

	// The process's own Prometheus metrics.
	s.router.Handle("/internal/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
}

// handleMetrics always answers 200 with whatever metrics could be
// assembled; partial upstream outages show up as error-count metrics in
// the body, not as HTTP failures.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := s.fleet.Export(r.Context())

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		checks["state_store"] = err.Error()
		healthy = false
	} else {
		checks["state_store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
