package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/census"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/metrics"
	"github.com/JakeFAU/county-wage-etl/internal/model"
	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
)

const (
	requestIDHeader = "X-Request-ID"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// RunReader reads etl_runs.
type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (model.Run, error)
	LatestRun(ctx context.Context, stateCode string) (model.Run, error)
}

// StagingCounter reports table sizes.
type StagingCounter interface {
	StagingCounts(ctx context.Context) (map[string]int64, error)
}

// Pinger checks a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the stores the server reads. Nil members disable the
// routes that need them.
type Dependencies struct {
	Runs    RunReader
	Staging StagingCounter
	DB      Pinger
}

// Server wires HTTP handlers to the run stores.
type Server struct {
	router chi.Router
	deps   Dependencies
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, logger *zap.Logger) *Server {
	s := &Server{deps: deps, logger: logging.OrNop(logger)}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs/latest", s.latestRun)
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/staging/counts", s.stagingCounts)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("status server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	state, err := census.ResolveState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.deps.Runs.LatestRun(r.Context(), state)
	s.writeRun(w, run, err)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	s.writeRun(w, run, err)
}

func (s *Server) writeRun(w http.ResponseWriter, run model.Run, err error) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error("run lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"run": run})
	}
}

func (s *Server) stagingCounts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staging == nil {
		writeError(w, http.StatusServiceUnavailable, "staging store not configured")
		return
	}
	counts, err := s.deps.Staging.StagingCounts(r.Context())
	if err != nil {
		s.logger.Error("staging counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count staging rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": counts})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
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
