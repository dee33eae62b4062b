package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"reconcile/internal/batch"
	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/metrics"
	"reconcile/internal/operation"
	"reconcile/internal/review"
	"reconcile/internal/store"
)

// Dependencies are the services the HTTP layer dispatches to.
type Dependencies struct {
	Store       *store.Store
	Registry    *operation.Registry
	Runner      *batch.Runner
	Coordinator *review.Coordinator
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Server is the reconcile HTTP API.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	registry    *operation.Registry
	runner      *batch.Runner
	coordinator *review.Coordinator
	metrics     *metrics.Collector
	logger      *slog.Logger

	// runCtx bounds batch runs started through the API.
	runCtx    context.Context
	cancelRun context.CancelFunc

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// New wires the router. Batch runs started through the API live until Stop
// or until the context passed to Start ends.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if deps.Store == nil || deps.Registry == nil || deps.Runner == nil || deps.Coordinator == nil {
		return nil, errors.New("store, registry, runner, and coordinator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		store:       deps.Store,
		registry:    deps.Registry,
		runner:      deps.Runner,
		coordinator: deps.Coordinator,
		metrics:     deps.Metrics,
		logger:      logging.NewComponentLogger(logger, "api-server"),
		runCtx:      runCtx,
		cancelRun:   cancel,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if origins := s.cfg.Paths.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/api/health", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Paths.APIToken))

		r.Post("/api/reconcile", s.handleStart)
		r.Get("/api/operations", s.handleListOperations)
		r.Route("/api/operations/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetOperation)
			r.Get("/stream", s.handleStream)
			r.Post("/cancel", s.handleCancel)
		})
		r.Get("/api/search", s.handleSearch)

		r.Get("/api/entities", s.handleEntities)
		r.Route("/api/entities/{entity}", func(r chi.Router) {
			r.Get("/dependents", s.handleDependents)
			r.Post("/dependencies", s.handleAddDependency)
			r.Post("/materialize", s.handleMaterialize)
			r.Post("/unmaterialize", s.handleUnmaterialize)

			r.Route("/fields/{field}", func(r chi.Router) {
				r.Get("/rows", s.handleRows)
				r.Post("/import", s.handleImport)
				r.Get("/spec", s.handleGetSpec)
				r.Put("/spec", s.handlePutSpec)
				r.Put("/mappings", s.handleUpdateMapping)
				r.Post("/bulk-accept", s.handleBulkAccept)
				r.Post("/bulk-reject", s.handleBulkReject)
				r.Get("/export.csv", s.handleExport)

				r.Route("/rows/{value}", func(r chi.Router) {
					r.Get("/candidates", s.handleCandidates)
					r.Post("/accept", s.handleAccept)
					r.Post("/accept-alternative", s.handleAcceptAlternative)
					r.Post("/reject", s.handleReject)
					r.Post("/unmatched", s.handleMarkUnmatched)
					r.Delete("/unmatched", s.handleClearUnmatched)
				})
			})
		})
	})
	return r
}

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return errors.New("paths.api_bind is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop cancels running batch operations and shuts the listener down.
func (s *Server) Stop() {
	s.cancelRun()
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
}
