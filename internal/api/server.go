package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/tasks"
)

// Commander is the command surface the API exposes.
type Commander interface {
	StartBackup(ctx context.Context, targetDir string) (string, error)
	Dispatch(ctx context.Context, cmd string, payload json.RawMessage) (json.RawMessage, error)
	RestoreFromFile(ctx context.Context, filePath string) (json.RawMessage, error)
	RestoreBackup(ctx context.Context, path string) (string, error)
	TaskStatus(ctx context.Context, id string) (tasks.Snapshot, error)
	CancelTask(id string) error
}

// EventSource streams progress events and replays recent ones.
type EventSource interface {
	Subscribe(taskID string) (<-chan events.ProgressEvent, func())
	SnapshotSince(lastSeq int64, taskID string) []events.ProgressEvent
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the bearer token required on every route except /healthz.
	// An empty token leaves the API open, which is only sane on loopback.
	Token string
	// KeepAlive is the SSE comment interval. Zero means 15s.
	KeepAlive time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	shell     Commander
	events    EventSource
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. metricsHandler may be nil, in
// which case /metrics is not mounted.
func New(config Config, shell Commander, source EventSource, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if config.KeepAlive <= 0 {
		config.KeepAlive = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		shell:     shell,
		events:    source,
		metrics:   metricsHandler,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Dispatch waits on the bridge lock and SSE streams stay open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.Token != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Post("/dispatch", s.handleDispatch)
		r.Post("/backup", s.handleBackup)
		r.Post("/restore/file", s.handleRestoreFile)
		r.Post("/restore/backup", s.handleRestoreBackup)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Delete("/tasks/{taskID}", s.handleCancelTask)
		r.Get("/events", s.handleEvents)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
