package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/polisai/polis-recruit/internal/governance"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes bounds request bodies; a resumed state carries every profile.
const maxBodyBytes = 4 << 20

// runRoute is the rate limiter key shared by every run-admitting endpoint.
const runRoute = "runs"

// RunService is the engine surface the front end needs.
type RunService interface {
	Start(ctx context.Context, req engine.StartRequest) (domain.RunResult, error)
	Resume(ctx context.Context, state domain.State) (domain.RunResult, error)
}

// TraceReader serves journal lookups. Optional.
type TraceReader interface {
	Entries(ctx context.Context, runID string) ([]domain.TraceEntry, error)
}

// Config holds dependencies for creating the handler.
type Config struct {
	Service RunService
	Journal TraceReader
	Limiter *governance.RateLimiter
	Metrics *Metrics
	Logger  *slog.Logger
}

// Server routes HTTP requests to the engine.
type Server struct {
	service RunService
	journal TraceReader
	limiter *governance.RateLimiter
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates the front end.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = governance.NewRateLimiter(nil)
	}
	return &Server{
		service: cfg.Service,
		journal: cfg.Journal,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/runs", s.handleStart)
	api.HandleFunc("POST /api/v1/runs/resume", s.handleResume)
	api.HandleFunc("GET /api/v1/runs/{id}/trace", s.handleTrace)
	api.HandleFunc("POST /api/v1/recruitment/execute", s.handleLegacyExecute)
	api.HandleFunc("POST /api/v1/recruitment/approve", s.handleResume)
	mux.Handle("/api/", otelhttp.NewHandler(api, "recruit.api"))

	return s.metrics.MetricsMiddleware(mux)
}

// NewHTTPServer wraps handler with the front end timeouts.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// admit applies the run rate limit. It writes the rejection itself.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter.AllowContext(r.Context(), runRoute) {
		if remaining := s.limiter.Remaining(runRoute); remaining >= 0 {
			governance.WriteRateLimitHeaders(w, remaining, 0)
		}
		return true
	}
	governance.WriteRateLimitHeaders(w, 0, time.Second)
	s.writeError(w, r, http.StatusTooManyRequests, domain.ErrorResponse{
		Code:    "RATE_LIMITED",
		Message: "too many runs, retry later",
	})
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, resp domain.ErrorResponse) {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	s.metrics.RecordRejected(resp.Code)
	s.writeJSON(w, status, resp)
}

// writeRunError maps an engine error onto a status code. Engine faults carry
// the last state so the caller can inspect or resume it.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, result domain.RunResult, err error) {
	code := engine.ErrorCode(err)
	resp := domain.ErrorResponse{Code: code, Message: err.Error()}

	status := http.StatusInternalServerError
	switch code {
	case domain.CodeInvalidRequest:
		status = http.StatusBadRequest
	case domain.CodeCancelled:
		status = http.StatusServiceUnavailable
		resp.State = &result.State
	case domain.CodeEngineFault:
		resp.State = &result.State
		s.logger.Error("engine fault", "run_id", result.State.RunID, "error", err)
	default:
		s.logger.Error("run failed", "error", err)
	}
	if resp.State != nil && resp.State.RawInput == "" {
		resp.State = nil
	}
	s.writeError(w, r, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

var _ TraceReader = (*storage.SQLiteJournal)(nil)
