package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/identity"
	"github.com/JakeFAU/milestone-tracker/internal/metrics"
	"github.com/JakeFAU/milestone-tracker/internal/store"
	"github.com/JakeFAU/milestone-tracker/internal/tracker"
)

const (
	requestTimeout  = 30 * time.Second
	userinfoTimeout = 2 * time.Second
)

// ViewSource provides the latest progress view. *tracker.Engine satisfies it.
type ViewSource interface {
	View() tracker.View
}

// Options wires a Server. Every field is optional.
type Options struct {
	// Views serves /v1/progress; nil means the tracker is disabled.
	Views ViewSource
	// Events serves /v1/events; nil answers 503.
	Events store.EventRepository
	// Identity backs the dev-only /api/userinfo route.
	Identity identity.Lookup
	// StatusFile backs the dev-only /milestones.json route.
	StatusFile string
	// Production hides the dev-only routes.
	Production bool
	Metrics    *metrics.Collectors
	Gatherer   prometheus.Gatherer
	// Ready reports readiness for /readyz; nil means always ready.
	Ready  func() bool
	Logger *zap.Logger
}

// Server wires HTTP handlers to the tracker and stores.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(opts.Metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))

	if !opts.Production {
		r.Get("/milestones.json", s.statusFile)
		r.Get("/api/userinfo", s.userinfo)
	}

	progress := NewProgressHandler(opts.Views, opts.Events, logger.Named("progress"))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", progress.Progress)
		r.Route("/events", func(r chi.Router) {
			r.Get("/", progress.ListEvents)
			r.Get("/{event_id}", progress.GetEvent)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFile serves the raw status document uncached so a local overlay sees
// edits immediately.
func (s *Server) statusFile(w http.ResponseWriter, _ *http.Request) {
	if s.opts.StatusFile == "" {
		writeError(w, http.StatusNotFound, "status file not configured")
		return
	}
	raw, err := os.ReadFile(s.opts.StatusFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "status file not found")
			return
		}
		s.logger.Warn("read status file failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read status file")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(raw); err != nil {
		s.logger.Debug("write status file failed", zap.Error(err))
	}
}

// userinfo always answers 200; lookup failures become empty strings.
func (s *Server) userinfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), userinfoTimeout)
	defer cancel()
	who, err := identity.Resolve(ctx, s.opts.Identity)
	if err != nil {
		s.logger.Debug("identity lookup failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, who)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
