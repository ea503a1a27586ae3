// Package server hosts the HTTP surface for operators: health probes,
// Prometheus metrics, manual cycle triggers, and run history.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/alerts"
	"github.com/adyam/logistics-tracker/internal/metrics"
	"github.com/adyam/logistics-tracker/internal/orchestrator"
	"github.com/adyam/logistics-tracker/internal/store"
)

// a full tracking cycle can pace through hundreds of shipments.
const cycleTimeout = 15 * time.Minute

// TrackingRunner runs one tracking cycle.
type TrackingRunner interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
}

// AlertRunner runs one alert dispatch cycle.
type AlertRunner interface {
	Run(ctx context.Context) (alerts.Summary, error)
}

// RunLister exposes recorded job runs.
type RunLister interface {
	ListJobRuns(ctx context.Context, limit int) ([]store.JobRun, error)
}

// Server wires HTTP handlers to the cycle runners.
type Server struct {
	router  chi.Router
	tracker TrackingRunner
	alerter AlertRunner
	runs    RunLister
	logger  *zap.Logger
}

// New constructs a Server with middleware and routes.
func New(tracker TrackingRunner, alerter AlertRunner, runs RunLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tracker: tracker,
		alerter: alerter,
		runs:    runs,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/tracking", s.runTracking)
			r.Post("/alerts", s.runAlerts)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runTracking triggers one tracking cycle inline and reports its summary.
// A cycle that checked shipments but failed some returns 502 so callers and
// cron wrappers notice degraded runs.
func (s *Server) runTracking(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracking runner unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), cycleTimeout)
	defer cancel()

	summary, err := s.tracker.Run(ctx)
	if err != nil {
		s.logger.Error("tracking cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if summary.Failed > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, summary)
}

func (s *Server) runAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerter == nil {
		writeError(w, http.StatusServiceUnavailable, "alert runner unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), cycleTimeout)
	defer cancel()

	summary, err := s.alerter.Run(ctx)
	if err != nil {
		s.logger.Error("alert cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if summary.Failed > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, summary)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListJobRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list job runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job runs")
		return
	}
	if runs == nil {
		runs = []store.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
