// Package api serves the submission queue and the leaderboard over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/submission"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/otel"
)

// QueueService is the submission side of the API.
type QueueService interface {
	Submit(ctx context.Context, req submission.Request) (submission.Submitted, error)
	Queue(ctx context.Context) ([]domain.Job, error)
	Cancel(ctx context.Context, model string) ([]int, error)
}

// Leaderboard is the read side of the API.
type Leaderboard interface {
	Records(ctx context.Context) ([]sheet.Record, error)
	Benchmarks(ctx context.Context) ([]string, error)
	Ranking(ctx context.Context, benchmark string) ([]leaderboard.Entry, error)
}

var (
	_ QueueService = (*submission.Service)(nil)
	_ Leaderboard  = (*leaderboard.Board)(nil)
)

// Config configures the listener and tracing filter.
type Config struct {
	Host  string
	Port  string
	Build string
	Otel  otel.Config
}

type Server struct {
	cfg     Config
	logger  *logger.Logger
	router  *chi.Mux
	queue   QueueService
	board   Leaderboard
	metrics APIMetrics
	tracer  trace.Tracer
}

// NewServer wires the routes. metrics may be nil.
func NewServer(
	cfg Config,
	queue QueueService,
	board Leaderboard,
	metrics APIMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) (*Server, error) {
	if queue == nil || board == nil {
		return nil, errors.New("api server requires a queue service and a leaderboard")
	}

	r := chi.NewRouter()

	s := &Server{
		cfg:     cfg,
		logger:  log.With("component", "api_server"),
		router:  r,
		queue:   queue,
		board:   board,
		metrics: metrics,
		tracer:  tracer,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)

	s.routes()
	return s, nil
}

// Handler returns the router wrapped with otelhttp instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "leaderboard-api",
		otelhttp.WithFilter(func(r *http.Request) bool { return s.cfg.Otel.RouteFilter(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			ctx := r.Context()
			route := chi.RouteContext(ctx).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			elapsed := time.Since(start)

			if s.metrics != nil {
				s.metrics.IncRequestsTotal(ctx, r.Method, route, ww.Status())
				s.metrics.ObserveRequestDuration(ctx, r.Method, route, elapsed)
			}
			s.logger.Info(ctx, "Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", elapsed,
				"trace_id", otel.GetTraceID(ctx),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/queue", s.handleListQueue)
		r.Post("/queue", s.handleSubmit)
		r.Delete("/queue/{model}", s.handleCancel)

		r.Get("/leaderboard", s.handleLeaderboard)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "build": s.cfg.Build})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.board.Benchmarks(ctx); err != nil {
		s.logger.Warn(ctx, "Readiness probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.Queue(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to read queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submission.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.logger.Warn(r.Context(), "Failed to decode request", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	submitted, err := s.queue.Submit(r.Context(), req)
	switch {
	case errors.Is(err, submission.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid submission", Fields: submission.ValidationErrors(err)})
	case err != nil:
		s.internalError(w, r, "failed to submit job", err)
	default:
		writeJSON(w, http.StatusCreated, submitted)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")

	rows, err := s.queue.Cancel(r.Context(), model)
	switch {
	case errors.Is(err, submission.ErrNotQueued):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		s.internalError(w, r, "failed to cancel job", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"model": submission.NormalizeModelID(model), "rows": rows})
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	benchmark := r.URL.Query().Get("benchmark")
	if benchmark == "" {
		records, err := s.board.Records(ctx)
		if err != nil {
			s.internalError(w, r, "failed to read leaderboard", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
		return
	}

	entries, err := s.board.Ranking(ctx, benchmark)
	switch {
	case errors.Is(err, sheet.ErrColumnNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown benchmark %q", benchmark)})
	case err != nil:
		s.internalError(w, r, "failed to rank leaderboard", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"benchmark": benchmark, "entries": entries})
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(r.Context(), msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(s.logger, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr, "service", "leaderboard-api")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
