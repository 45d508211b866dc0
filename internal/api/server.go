// Package api is the HTTP front end: it accepts messages for the
// assistant and exposes session state for inspection.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/user/deskmate/internal/metrics"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/types"
)

// Source is the transport name for users reached over HTTP.
const Source = "http"

const (
	DefaultReplyTimeout = 2 * time.Minute
	healthCheckTimeout  = 5 * time.Second
	maxUpload           = 25 << 20
	defaultEventLimit   = 200
)

// Asker runs one turn and waits for its reply; *gateway.Gateway
// implements it.
type Asker interface {
	Ask(ctx context.Context, event *types.InboundEvent) (types.Reply, error)
}

// Journal is the event store as the API uses it.
type Journal interface {
	types.EventStore
	Reset(ctx context.Context, userID types.UserID) error
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Options struct {
	ReplyTimeout time.Duration
	// Checks are run by GET /health, keyed by dependency name.
	Checks  map[string]Check
	Metrics *metrics.Metrics
}

// Server routes HTTP requests to the assistant.
type Server struct {
	router    chi.Router
	asker     Asker
	sessions  *session.Store
	events    Journal
	artifacts types.ArtifactStore
	opts      Options
}

func NewServer(asker Asker, sessions *session.Store, events Journal, artifacts types.ArtifactStore, opts Options) *Server {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	s := &Server{
		asker:     asker,
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		opts:      opts,
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	r.Post("/message", s.handleMessage)
	r.Post("/message/audio", s.handleAudioMessage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{userID}", s.handleResetSession)
		r.Get("/sessions/{userID}/events", s.handleSessionEvents)
		r.Get("/artifacts/{id}", s.handleArtifact)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status, code := "healthy", http.StatusOK
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	JSON(w, code, map[string]any{"status": status, "checks": checks})
}
