package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/metrics"
	"github.com/JakeFAU/sitegraph/internal/pipeline"
	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/progress/sinks"
)

const (
	maxRequestBody = 64 << 10
	requestTimeout = 30 * time.Second
)

// SessionRunner runs one session and writes its events to sink.
type SessionRunner interface {
	Run(ctx context.Context, req pipeline.Request, sink progress.Sink) (*pipeline.Result, error)
}

// SessionCanceller cancels running sessions by id.
type SessionCanceller interface {
	Cancel(id string) bool
}

// ResultReader returns the last result recorded for a session.
type ResultReader interface {
	Get(ctx context.Context, sessionID string) (pipeline.Result, bool)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router   chi.Router
	runner   SessionRunner
	sessions SessionCanceller
	results  ResultReader
	ready    []ReadinessCheck
	cfg      config.Config
	logger   *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessChecks adds checks consulted by /readyz.
func WithReadinessChecks(checks ...ReadinessCheck) Option {
	return func(s *Server) { s.ready = append(s.ready, checks...) }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner SessionRunner,
	sessions SessionCanceller,
	results ResultReader,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		sessions: sessions,
		results:  results,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawl", func(r chi.Router) {
		// Streams stay open for the whole session; no request timeout.
		r.Post("/stream", s.streamCrawl)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Post("/cancel", s.cancelCrawl)
			r.Group(func(r chi.Router) {
				if cfg.Auth.Enabled {
					r.Use(requireAPIKey(cfg.Auth.APIKey))
				}
				r.Get("/{session_id}/result", s.getResult)
			})
		})
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// authenticated reports whether the caller gets the full page cap. With auth
// disabled every caller does.
func (s *Server) authenticated(r *http.Request) bool {
	if !s.cfg.Auth.Enabled {
		return true
	}
	return keyMatches(requestAPIKey(r), s.cfg.Auth.APIKey)
}

func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	sink := sinks.NewSSESink(w)

	var req pipeline.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.logger.Debug("invalid stream body", zap.Error(err))
		progress.NewEmitter(r.Context(), "", sink).
			Error("invalid JSON body", map[string]any{"reason": err.Error()})
		return
	}

	if s.authenticated(r) {
		req.PageLimit = s.cfg.Crawler.MaxPagesDefault
		req.Demo = false
	} else {
		req.PageLimit = s.cfg.Crawler.DemoMaxPages
		req.Demo = true
	}

	if _, err := s.runner.Run(r.Context(), req, sink); err != nil {
		s.logger.Debug("session ended without result",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
	}
}

type cancelRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if !s.sessions.Cancel(req.SessionID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"sessionId": req.SessionID, "cancelled": false})
		return
	}
	s.logger.Info("session cancel requested", zap.String("session_id", req.SessionID))
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": req.SessionID, "cancelled": true})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	res, ok := s.results.Get(r.Context(), sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
