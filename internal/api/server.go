// Package api exposes the HTTP interface for the job-run queue. Runner
// instances poll and update runs through it; the scheduler and operators
// enqueue runs through it.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/metrics"
)

const requestTimeout = 60 * time.Second

// Config controls server behavior.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the job run store.
type Server struct {
	router chi.Router
	runs   bookprice.JobRunStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs bookprice.JobRunStore, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:   runs,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/jobs", s.listJobs)
		r.Route("/job-runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/", s.createRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Patch("/", s.updateRunStatus)
			})
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The run store backs every endpoint; a cheap query proves it reachable.
	if _, err := s.runs.ListJobs(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.runs.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []bookprice.JobDefinition{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	status := bookprice.JobRunStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	// The single-run claim poll is the hot path: pending runs already come
	// back in claim order (priority, then age).
	var (
		runs []bookprice.JobRun
		err  error
	)
	if status == bookprice.RunPending && limit == 1 {
		var run *bookprice.JobRun
		run, err = s.runs.NextPendingRun(r.Context())
		if err == nil && run != nil {
			runs = []bookprice.JobRun{*run}
		}
	} else {
		runs, err = s.runs.ListRuns(r.Context(), status, limit)
	}
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []bookprice.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var run bookprice.JobRun
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if run.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id required")
		return
	}
	if err := s.runs.CreateRun(r.Context(), run); err != nil {
		s.logger.Error("create run failed", zap.String("job", run.JobName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, bookprice.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) updateRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	var update bookprice.RunStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	update.RunID = runID
	if update.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}

	err := s.runs.UpdateRunStatus(r.Context(), update)
	switch {
	case errors.Is(err, bookprice.ErrVersionConflict):
		writeError(w, http.StatusConflict, "stale version")
	case errors.Is(err, bookprice.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error("update run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update run failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
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
