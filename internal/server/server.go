// Package server exposes completed runs and on-demand explanations over
// HTTP. The surface is read-only except for /v1/explain, which scores and
// decomposes a caller-supplied feature vector against the loaded ensemble.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/metrics"
	"github.com/peakshaver/glassbox/internal/store"
)

const maxBodyBytes = 1 << 20 // 1MB request body cap

// Config holds the HTTP server settings.
type Config struct {
	Addr            string
	RatePerSec      int // token refill rate for /v1/explain
	MetricsUser     string
	MetricsPass     string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		RatePerSec:      50,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server routes requests over a run store and an optional explainer. When no
// explainer is loaded, /v1/explain answers 503.
type Server struct {
	cfg       Config
	store     store.Store
	explainer *explain.Explainer
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New creates a server. exp and m may be nil.
func New(cfg Config, st store.Store, exp *explain.Explainer, logger zerolog.Logger, m *metrics.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 50
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		explainer: exp,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec*2),
		metrics:   m,
		log:       logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/runs/", s.handleRunByID)
	mux.HandleFunc("/v1/explain", s.handleExplain)
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.error(w, "runs", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.error(w, "runs", http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list runs")
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		s.error(w, "runs", http.StatusInternalServerError, "store unavailable")
		return
	}
	s.json(w, "runs", http.StatusOK, map[string]any{"runs": recs, "count": len(recs)})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.error(w, "run", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		s.error(w, "run", http.StatusNotFound, "run not found")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.error(w, "run", http.StatusNotFound, "run not found")
			return
		}
		s.log.Error().Err(err).Str("run_id", id).Msg("get run")
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		s.error(w, "run", http.StatusInternalServerError, "store unavailable")
		return
	}
	s.json(w, "run", http.StatusOK, rec)
}

// ExplainRequest is the /v1/explain payload: one feature vector in the
// order reported by feature_names.
type ExplainRequest struct {
	Features []float64 `json:"features"`
}

// ExplainResponse carries the prediction and its break-down decomposition.
type ExplainResponse struct {
	FeatureNames []string             `json:"feature_names"`
	Prediction   float64              `json:"prediction"`
	Baseline     float64              `json:"baseline"`
	BreakDown    *explain.Attribution `json:"break_down"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.error(w, "explain", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", "1")
		s.error(w, "explain", http.StatusTooManyRequests, "too many requests")
		return
	}

	if s.explainer == nil {
		s.error(w, "explain", http.StatusServiceUnavailable, "no model loaded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.error(w, "explain", http.StatusBadRequest, "failed to read body")
		return
	}
	var req ExplainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.error(w, "explain", http.StatusBadRequest, "invalid JSON")
		return
	}

	names := s.explainer.FeatureNames()
	if len(req.Features) != len(names) {
		s.error(w, "explain", http.StatusBadRequest,
			fmt.Sprintf("expected %d features, got %d", len(names), len(req.Features)))
		return
	}

	attr, err := s.explainer.BreakDown(r.Context(), req.Features)
	if err != nil {
		s.log.Error().Err(err).Msg("break-down failed")
		s.error(w, "explain", http.StatusInternalServerError, "explanation failed")
		return
	}

	s.json(w, "explain", http.StatusOK, ExplainResponse{
		FeatureNames: names,
		Prediction:   attr.Prediction,
		Baseline:     attr.Baseline,
		BreakDown:    attr,
	})
}

// metricsHandler wraps promhttp with basic auth when credentials are set.
func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()
	if s.cfg.MetricsUser == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.MetricsUser || pass != s.cfg.MetricsPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) error(w http.ResponseWriter, route string, status int, msg string) {
	s.json(w, route, status, errorResponse{Error: msg})
}

func (s *Server) json(w http.ResponseWriter, route string, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
	if s.metrics != nil {
		s.metrics.RequestsServed.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}
