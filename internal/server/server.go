// Package server exposes the pipeline service over HTTP.
//
// The surface is small: POST /api/trigger starts a run and blocks until it
// finishes, GET /api/overview serves the latest snapshot for pollers without
// starting work, GET /api/tools serves the configured dashboard links, plus
// /metrics and /healthz for operations.
//
// Stage failures never surface as HTTP errors; they live in the returned
// stage list. Only malformed input (4xx) and internal faults (5xx) produce
// error responses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/forgeline/pipeline/domain"
	"github.com/forgeline/pipeline/internal/errcode"
	"github.com/forgeline/pipeline/internal/metrics"
	"github.com/forgeline/pipeline/internal/repo"
	"github.com/forgeline/pipeline/internal/store"
)

// Triggerer runs a pipeline for a repository identifier. Implemented by
// pipeline.Executor; faked in tests.
type Triggerer interface {
	Execute(ctx context.Context, rawRepo string) (domain.PipelineRun, error)
}

// Server is the HTTP facade over the pipeline executor and status store.
type Server struct {
	executor Triggerer
	store    *store.Store
	metrics  metrics.Source
	inst     *metrics.Instrumenter
	tools    map[string]string
	log      *slog.Logger
}

// New returns a Server. tools maps tool names to dashboard URLs; empty
// values are dropped from the /api/tools response.
func New(
	executor Triggerer,
	st *store.Store,
	source metrics.Source,
	inst *metrics.Instrumenter,
	tools map[string]string,
	log *slog.Logger,
) *Server {
	return &Server{
		executor: executor,
		store:    st,
		metrics:  source,
		inst:     inst,
		tools:    tools,
		log:      log,
	}
}

// Routes builds the router with middleware and all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.inst.Middleware)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/overview", s.handleOverview)
	r.Post("/api/trigger", s.handleTrigger)
	r.Get("/api/tools", s.handleTools)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.inst.Handler())

	return r
}

// statusResponse is the wire shape shared by trigger and overview. The
// stage list and metrics object are always present, empty when nothing has
// run.
type statusResponse struct {
	PipelineStages []wireStage            `json:"pipelineStages"`
	Metrics        domain.MetricsSnapshot `json:"metrics"`
}

type wireStage struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Status      domain.StageStatus `json:"status"`
	Detail      string             `json:"detail,omitempty"`
	URL         string             `json:"url,omitempty"`
	TestsPassed *int               `json:"testsPassed,omitempty"`
	TestsFailed *int               `json:"testsFailed,omitempty"`
}

func toWire(run domain.PipelineRun, m domain.MetricsSnapshot) statusResponse {
	stages := make([]wireStage, 0, len(run.Stages))
	for _, st := range run.Stages {
		stages = append(stages, wireStage{
			ID:          st.ID,
			Name:        st.Name,
			Status:      st.Status.Wire(),
			Detail:      st.Detail,
			URL:         st.URL,
			TestsPassed: st.TestsPassed,
			TestsFailed: st.TestsFailed,
		})
	}
	return statusResponse{PipelineStages: stages, Metrics: m}
}

func emptyStatus() statusResponse {
	return statusResponse{PipelineStages: []wireStage{}, Metrics: domain.MetricsSnapshot{}}
}

type triggerRequest struct {
	Repo string `json:"repo"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Code  errcode.Code `json:"code"`
}

// handleTrigger starts a pipeline run and blocks until it completes. The
// run's stage outcomes are data, so the response is 200 even when stages
// failed; only a malformed repository identifier or an internal fault
// produces an error status.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errcode.New(errcode.CodeInvalidInput, "request body must be JSON with a \"repo\" field"))
		return
	}

	run, err := s.executor.Execute(r.Context(), req.Repo)
	if err != nil {
		var coded *errcode.Error
		if !errors.As(err, &coded) {
			coded = errcode.Wrap(err, errcode.CodeInternal, "pipeline execution failed")
		}
		s.writeError(w, coded)
		return
	}

	snapshot := s.metrics.Snapshot(r.Context())
	s.store.PutMetrics(run.Repository, snapshot)

	s.writeJSON(w, http.StatusOK, toWire(run, snapshot))
}

// handleOverview serves the latest snapshot without starting new work. With
// no repo parameter it falls back to the most recently triggered repository;
// with nothing ever triggered it serves the explicit empty response.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("repo")
	if key == "" {
		key = s.store.LastTriggered()
	}
	if key == "" {
		s.writeJSON(w, http.StatusOK, emptyStatus())
		return
	}
	if normalized, err := repo.Normalize(key); err == nil {
		key = normalized
	}

	run, ok := s.store.Get(key)
	if !ok {
		s.writeJSON(w, http.StatusOK, emptyStatus())
		return
	}

	// Refresh the metrics snapshot on each poll; stage data stays as the
	// executor left it.
	snapshot := s.metrics.Snapshot(r.Context())
	if snapshot.Connected() {
		s.store.PutMetrics(key, snapshot)
	} else {
		snapshot = s.store.GetMetrics(key)
	}

	s.writeJSON(w, http.StatusOK, toWire(run, snapshot))
}

// handleTools serves the configured external dashboard links. Absent
// entries are omitted rather than served empty.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	links := make(map[string]string, len(s.tools))
	for name, url := range s.tools {
		if url != "" {
			links[name] = url
		}
	}
	s.writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err *errcode.Error) {
	status := err.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", err.Code, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: err.Code})
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
