// Package api exposes the HTTP control surface for the acquisition
// pipeline service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/config"
	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
)

// IDGenerator mints job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Coordinator is the narrow surface Server needs from a running
// coordinator.Actor: enough to start a job and read back its state. Kept
// as a local interface, not the concrete type, so tests can substitute a
// fake without wiring real discovery/fetcher collaborators.
type Coordinator interface {
	Tell(ctx context.Context, msg any) error
	Status(ctx context.Context, timeout time.Duration) (coordinator.StatusSnapshot, error)
	Logs(ctx context.Context, limit int, timeout time.Duration) ([]pipeline.LogEntry, error)
}

const controlTimeout = 3 * time.Second

// Server wires HTTP handlers to one Coordinator per source.
type Server struct {
	router       chi.Router
	coordinators map[string]Coordinator
	idGen        IDGenerator
	cfg          config.Config
	logger       *zap.Logger
	hub          *progress.Hub
}

// NewServer constructs a Server with middleware and routes. coordinators
// is keyed by source ID (dof, scjn, bjv, cas); a request for an unknown
// source ID returns 404. hub backs the Events SSE endpoint; it may be nil,
// in which case that endpoint responds 503.
func NewServer(
	coordinators map[string]Coordinator,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
	hub *progress.Hub,
) *Server {
	s := &Server{
		coordinators: coordinators,
		idGen:        idGen,
		cfg:          cfg,
		logger:       logger,
		hub:          hub,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	// Bounded request timeout applies to every handler except the Events
	// SSE stream, which is expected to stay open for a job's lifetime.
	withTimeout := timeoutMiddleware(60 * time.Second)

	r.With(withTimeout).Get("/healthz", s.healthz)
	r.With(withTimeout).Get("/readyz", s.readyz)
	r.With(withTimeout).Handle("/metrics", promhttp.Handler())

	r.Route("/v1/sources/{source_id}/jobs", func(r chi.Router) {
		r.With(withTimeout).Post("/", s.startJob)
		r.With(withTimeout).Get("/status", s.getStatus)
		r.With(withTimeout).Get("/logs", s.getLogs)
		r.With(withTimeout).Post("/pause", s.pauseJob)
		r.With(withTimeout).Post("/resume", s.resumeJob)
		r.With(withTimeout).Post("/cancel", s.cancelJob)
		r.Get("/events", s.streamEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// startJobRequest is the body of POST /v1/sources/{source_id}/jobs.
type startJobRequest struct {
	Mode             string            `json:"mode"`
	Date             string            `json:"date"`
	DateStart        string            `json:"date_start"`
	DateEnd          string            `json:"date_end"`
	Category         string            `json:"category"`
	Scope            string            `json:"scope"`
	Status           string            `json:"status"`
	Query            string            `json:"query"`
	Filters          map[string]string `json:"filters"`
	MaxResults       int               `json:"max_results"`
	OutputDirectory  string            `json:"output_directory"`
	RateLimitRPS     float64           `json:"rate_limit_rps"`
	Concurrency      int               `json:"concurrency"`
	DownloadPayloads bool              `json:"download_payloads"`
	CheckpointID     string            `json:"checkpoint_id"`
	MaxAttempts      int               `json:"max_attempts"`
	CheckpointEvery  int               `json:"checkpoint_every"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	coord, ok := s.coordinators[sourceID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}

	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}

	cfg := s.toPipelineConfig(sourceID, req)
	msg := coordinator.StartJob{JobID: jobID, Config: cfg}

	if err := coord.Tell(r.Context(), msg); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) toPipelineConfig(sourceID string, req startJobRequest) pipeline.Config {
	cfg := pipeline.Config{
		SourceID:         sourceID,
		Mode:             pipeline.Mode(req.Mode),
		Date:             req.Date,
		DateStart:        req.DateStart,
		DateEnd:          req.DateEnd,
		Category:         req.Category,
		Scope:            req.Scope,
		Status:           req.Status,
		Query:            req.Query,
		Filters:          req.Filters,
		MaxResults:       req.MaxResults,
		OutputDirectory:  req.OutputDirectory,
		RateLimitRPS:     req.RateLimitRPS,
		Concurrency:      req.Concurrency,
		DownloadPayloads: req.DownloadPayloads,
		CheckpointID:     req.CheckpointID,
		MaxAttempts:      req.MaxAttempts,
		CheckpointEvery:  req.CheckpointEvery,
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = s.cfg.RateLimit.DefaultRPS
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = s.cfg.RateLimit.Concurrency
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = s.cfg.Persistence.DefaultCheckpointEvery
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = s.cfg.Storage.Directory
	}
	return cfg
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	snapshot, err := coord.Status(ctx, controlTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	logs, err := coord.Logs(ctx, limit, controlTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.tellSignal(w, r, coordinator.Pause{})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.tellSignal(w, r, coordinator.Resume{})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.tellSignal(w, r, coordinator.Cancel{})
}

func (s *Server) tellSignal(w http.ResponseWriter, r *http.Request, signal any) {
	coord, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	if err := coord.Tell(r.Context(), signal); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// streamEvents serves a Server-Sent Events stream of progress events for
// one source, optionally narrowed to a single job via ?job_id=. The
// connection stays open until the client disconnects or the server shuts
// down.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.coordinatorFor(w, r); !ok {
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "events stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sourceID := chi.URLParam(r, "source_id")
	jobID := r.URL.Query().Get("job_id")
	sub := s.hub.Subscribe(func(evt progress.Event) bool {
		if evt.SourceID != "" && evt.SourceID != sourceID {
			return false
		}
		if jobID != "" && evt.JobID != jobID {
			return false
		}
		return true
	}, 0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case evt, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("marshal progress event for sse failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) coordinatorFor(w http.ResponseWriter, r *http.Request) (Coordinator, bool) {
	sourceID := chi.URLParam(r, "source_id")
	coord, ok := s.coordinators[sourceID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return nil, false
	}
	return coord, true
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	if n < 0 {
		return 0, errors.New("must be >= 0")
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
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
			zap.Duration("duration", time.Since(start)),
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

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
