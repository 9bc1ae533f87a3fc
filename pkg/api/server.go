package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/modules"
	"github.com/justindthomas/imp/pkg/stores"
)

// DefaultListen is the status server address.
const DefaultListen = "127.0.0.1:9470"

// History is the read side of the apply history.
type History interface {
	ListCycles(ctx context.Context, filter stores.CycleFilter) ([]*stores.CycleRecord, error)
	GetCycle(ctx context.Context, id string) (*stores.CycleRecord, error)
}

// Planner runs dry-run cycles.
type Planner interface {
	Plan(ctx context.Context, prev, next *config.RouterConfig) (*engine.CycleResult, error)
}

// ConfigSource loads a router configuration. A source without a
// configuration returns an error matching fs.ErrNotExist.
type ConfigSource interface {
	Load(ctx context.Context) (*config.RouterConfig, error)
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(ctx context.Context) (*config.RouterConfig, error)

// Load calls f.
func (f ConfigSourceFunc) Load(ctx context.Context) (*config.RouterConfig, error) { return f(ctx) }

// Config wires the status server to the rest of imp. Nil collaborators
// disable their routes.
type Config struct {
	Listen string

	History History
	Planner Planner

	// Applied is the running configuration, Staged the candidate.
	Applied ConfigSource
	Staged  ConfigSource

	Registry *modules.Registry
	Topology alloc.Topology

	// Events backs /api/v1/events.
	Events EventSource

	// Metrics serves /metrics.
	Metrics http.Handler

	Logger zerolog.Logger
}

// Server is the read-only HTTP status API.
type Server struct {
	cfg    Config
	router *mux.Router
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a status server.
func NewServer(cfg Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "api").Logger(),
	}
	s.router = s.newRouter()
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ResponseError(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ResponseError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if s.cfg.History != nil {
		Runs{history: s.cfg.History}.Router(v1)
	}
	if s.cfg.Applied != nil {
		Allocation{
			applied:  s.cfg.Applied,
			staged:   s.cfg.Staged,
			registry: s.cfg.Registry,
			topology: s.cfg.Topology,
		}.Router(v1)
		if s.cfg.Planner != nil {
			Plan{planner: s.cfg.Planner, applied: s.cfg.Applied, staged: s.cfg.Staged}.Router(v1)
		}
	}
	if s.cfg.Events != nil {
		Events{source: s.cfg.Events}.Router(v1)
	}
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics).Methods("GET")
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.cfg.Listen).Msg("Status API listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status API failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down status API: %w", err)
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
