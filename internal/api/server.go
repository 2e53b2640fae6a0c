package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/autoscale"
	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

const (
	defaultBatchLimit = 20
	maxBatchLimit     = 500
)

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DepthView exposes the last queue depth the autoscaler saw.
type DepthView interface {
	Last() int64
}

// FleetView lists workers and their in-flight jobs.
type FleetView interface {
	Workers(ctx context.Context) ([]fleet.WorkerRecord, error)
	ActiveJobs(ctx context.Context, name string) []fleet.ActiveJob
}

// ReadinessView reports the readiness flag.
type ReadinessView interface {
	IsReadyToTerminate(ctx context.Context) (bool, error)
}

// CountersView reports barrier counters.
type CountersView interface {
	Snapshot(ctx context.Context) (fleet.CompletionCounters, error)
}

// DecisionView reports the last autoscaling decision.
type DecisionView interface {
	Last() autoscale.Decision
}

// Deps are the collaborators the handlers read from. Ledger and Decisions
// may be nil.
type Deps struct {
	Store     Pinger
	Depth     DepthView
	Fleet     FleetView
	Readiness ReadinessView
	Counters  CountersView
	Decisions DecisionView
	Ledger    fleet.BatchLedger
}

// Server wires HTTP handlers to the fleet components.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// Status is the body of GET /v1/status.
type Status struct {
	QueueDepth   int64                    `json:"queue_depth"`
	Workers      int                      `json:"workers"`
	Ready        bool                     `json:"ready_to_terminate"`
	Counters     fleet.CompletionCounters `json:"counters"`
	LastDecision *autoscale.Decision      `json:"last_decision,omitempty"`
	Errors       []string                 `json:"errors,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/workers", s.workers)
		r.Get("/workers/{name}/jobs", s.workerJobs)
		r.Get("/batches", s.batches)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var st Status
	if s.deps.Depth != nil {
		st.QueueDepth = s.deps.Depth.Last()
	}
	if s.deps.Fleet != nil {
		workers, err := s.deps.Fleet.Workers(ctx)
		if err != nil {
			st.Errors = append(st.Errors, "workers: "+err.Error())
		}
		st.Workers = len(workers)
	}
	if s.deps.Readiness != nil {
		ready, err := s.deps.Readiness.IsReadyToTerminate(ctx)
		if err != nil {
			st.Errors = append(st.Errors, "readiness: "+err.Error())
		}
		st.Ready = ready
	}
	if s.deps.Counters != nil {
		counters, err := s.deps.Counters.Snapshot(ctx)
		if err != nil {
			st.Errors = append(st.Errors, "counters: "+err.Error())
		}
		st.Counters = counters
	}
	if s.deps.Decisions != nil {
		d := s.deps.Decisions.Last()
		if d.Action != "" {
			st.LastDecision = &d
		}
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) workers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fleet == nil {
		s.writeError(w, http.StatusNotFound, "fleet not configured")
		return
	}
	workers, err := s.deps.Fleet.Workers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *Server) workerJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fleet == nil {
		s.writeError(w, http.StatusNotFound, "fleet not configured")
		return
	}
	name := chi.URLParam(r, "name")
	workers, err := s.deps.Fleet.Workers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	found := false
	for _, wr := range workers {
		if wr.Name == name {
			found = true
			break
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	jobs := s.deps.Fleet.ActiveJobs(r.Context(), name)
	if jobs == nil {
		jobs = []fleet.ActiveJob{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"worker": name, "jobs": jobs})
}

func (s *Server) batches(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		s.writeError(w, http.StatusNotFound, "batch ledger not configured")
		return
	}
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxBatchLimit)
	}
	runs, err := s.deps.Ledger.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		s.logger.Error("list batches failed", zap.Error(err))
		return
	}
	if runs == nil {
		runs = []fleet.BatchRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": runs})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID, _ := r.Context().Value(requestIDKey{}).(string)
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", reqID),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
