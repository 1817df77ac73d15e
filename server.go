package flowline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the read-only HTTP API over the engine's state, plus the
// webhook ingress and the Prometheus scrape endpoint.
type Server struct {
	store   Store
	ingress *WebhookIngress
}

func NewServer(store Store, ingress *WebhookIngress) *Server {
	return &Server{
		store:   store,
		ingress: ingress,
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Workflows
	mux.HandleFunc("GET /api/workflows/{id}", s.HandleGetWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/executions", s.HandleListExecutions)

	// Executions
	mux.HandleFunc("GET /api/executions/{id}", s.HandleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/nodes", s.HandleListNodeRuns)
	mux.HandleFunc("GET /api/executions/{id}/events", s.HandleListEvents)

	// Cron schedules
	mux.HandleFunc("GET /api/schedules", s.HandleListSchedules)

	// Statistics
	mux.HandleFunc("GET /api/stats/summary", s.HandleGetSummaryStats)

	mux.Handle("GET /metrics", promhttp.Handler())

	if s.ingress != nil {
		s.ingress.Register(mux)
	}

	return mux
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			http.Error(w, "Workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to fetch workflow: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, wf)
}

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	executions, err := s.store.ListExecutions(ctx, id)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch executions: %v", err), http.StatusInternalServerError)
		return
	}

	if executions == nil {
		executions = []*Execution{}
	}

	writeJSON(w, executions)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	executionID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to fetch execution: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, execution)
}

func (s *Server) HandleListNodeRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	executionID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	runs, err := s.store.ListNodeRuns(ctx, executionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch node runs: %v", err), http.StatusInternalServerError)
		return
	}

	if runs == nil {
		runs = []*NodeRun{}
	}

	writeJSON(w, runs)
}

func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	executionID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	events, err := s.store.ListEvents(ctx, executionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch events: %v", err), http.StatusInternalServerError)
		return
	}

	if events == nil {
		events = []*ExecutionEvent{}
	}

	writeJSON(w, events)
}

func (s *Server) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	schedules, err := s.store.ListCronSchedules(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch schedules: %v", err), http.StatusInternalServerError)
		return
	}

	if schedules == nil {
		schedules = []*CronSchedule{}
	}

	writeJSON(w, schedules)
}

func (s *Server) HandleGetSummaryStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.store.GetSummaryStats(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch summary stats: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}

func parseExecutionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	executionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid execution ID", http.StatusBadRequest)
		return 0, false
	}

	return executionID, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
