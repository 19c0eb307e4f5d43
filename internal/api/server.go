// Package api exposes the scan submission, streaming, and history endpoints
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/internal/infra/stream"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
	"github.com/ahrav/pii-sentinel/pkg/common/otel"
)

// ScanStarter accepts scan submissions into background sessions.
type ScanStarter interface {
	StartImageScan(ctx context.Context, requestID string, kind scanning.ScanKind, items []scanning.WorkItem) (scanning.Batch, error)
	StartDocumentScan(ctx context.Context, requestID string, items []scanning.WorkItem, piiTypes []string) (scanning.Batch, error)
	StartDatabaseScan(ctx context.Context, requestID string, req appscan.DatabaseScanRequest) (scanning.Batch, error)
}

// HistoryStore serves the read side of the batch history endpoints.
type HistoryStore interface {
	ListBatches(ctx context.Context) ([]scanning.Batch, error)
	GetImageResults(ctx context.Context, batchID uuid.UUID) ([]scanning.ClassificationResult, error)
	GetDocumentResults(ctx context.Context, batchID uuid.UUID) ([]scanning.DocumentResult, error)
	GetDatabaseReport(ctx context.Context, batchID uuid.UUID) (*scanning.DatabaseScanReport, error)
}

type Server struct {
	cfg      *config.Config
	logger   *logger.Logger
	router   *chi.Mux
	tracer   trace.Tracer
	starter  ScanStarter
	hub      *stream.Hub
	history  HistoryStore
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
	starter ScanStarter,
	hub *stream.Hub,
	history HistoryStore,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		logger:   log,
		router:   r,
		tracer:   tracer,
		starter:  starter,
		hub:      hub,
		history:  history,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Scan requests carry their own ids; the stream endpoint is
			// origin-agnostic.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Post("/scans/images", s.handleImageScan)
		r.Post("/scans/documents", s.handleDocumentScan)
		r.Post("/scans/database", s.handleDatabaseScan)

		r.Get("/ws", s.handleWebSocket)

		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{batchID}/images", s.handleBatchImages)
		r.Get("/batches/{batchID}/documents", s.handleBatchDocuments)
		r.Get("/batches/{batchID}/db", s.handleBatchDatabase)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.respond(w, r, status, map[string]string{"error": msg})
}

// Start runs the listener until ctx is cancelled, then drains in-flight
// requests within the configured shutdown window.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.Web.APIHost, s.cfg.Web.APIPort),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Web.ReadTimeout,
		WriteTimeout: s.cfg.Web.WriteTimeout,
		IdleTimeout:  s.cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server",
		"addr", server.Addr,
		"service", "pii-sentinel-api",
	)

	return server.ListenAndServe()
}

// Router exposes the configured handler, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }
