// Package api exposes the HTTP control surface for the ingestion pipeline.
// It is a thin delegation layer: validation and job semantics live in the
// orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/orchestrator"
	"github.com/zonedesk/ingest/internal/pipeline"
	"github.com/zonedesk/ingest/internal/scheduler"
)

const defaultRunWait = 60 * time.Second

// Server wires HTTP handlers to the orchestrator and scheduler.
type Server struct {
	router    chi.Router
	orch      *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The scheduler
// may be nil, in which case recurring schedules are rejected.
func NewServer(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:      orch,
		scheduler: sched,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Post("/run", s.runJob)
				r.Get("/status", s.getJobStatus)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Post("/schedules", s.createSchedule)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Kind     string            `json:"kind"`
	Schedule string            `json:"schedule"`
	Targets  []pipeline.Target `json:"targets"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.orch.Submit(pipeline.JobKind(req.Kind), req.Targets, req.Schedule)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ctx, cancel := contextWithRunWait(r)
	defer cancel()

	job, err := s.orch.Run(ctx, jobID)
	if err != nil {
		var ve *pipeline.ValidationError
		if errors.As(err, &ve) {
			s.writeFailure(w, err)
			return
		}
		// Deadline hit: the run continues in the background; hand back the
		// in-flight snapshot.
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "detached": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.orch.Status(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.orch.Cancel(jobID); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "canceled"})
}

type scheduleRequest struct {
	Kind     string            `json:"kind"`
	Schedule string            `json:"schedule"`
	Targets  []pipeline.Target `json:"targets"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotImplemented, "scheduling is not enabled")
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entryID, err := s.scheduler.Schedule(pipeline.JobKind(req.Kind), req.Targets, req.Schedule)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry_id": int(entryID)})
}

// writeFailure maps pipeline errors to HTTP statuses. Anything unexpected
// becomes a generic processing failure; internals never leak past this
// boundary.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var ve *pipeline.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	s.logger.Error("request processing failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "processing failed")
}

func contextWithRunWait(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	wait := defaultRunWait
	if raw := r.URL.Query().Get("wait_seconds"); raw != "" {
		if secs, err := time.ParseDuration(raw + "s"); err == nil && secs > 0 {
			wait = secs
		}
	}
	return context.WithTimeout(r.Context(), wait)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
