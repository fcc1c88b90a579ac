package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"gridci/internal/runner"
	"gridci/internal/workflow"
)

// Server exposes the pipeline over HTTP: event delivery, run status, the
// loaded descriptor, and journal verification. The descriptor can be
// hot-swapped via Reload while runs are in flight.
type Server struct {
	mu     sync.Mutex
	wf     *workflow.Workflow
	path   string
	runner *runner.Runner
	runs   map[string]*runner.RunResult
	order  []string
	logger *slog.Logger
}

// New creates a Server around an already-loaded workflow.
func New(wf *workflow.Workflow, path string, r *runner.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		wf:     wf,
		path:   path,
		runner: r,
		runs:   make(map[string]*runner.RunResult),
		logger: logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/events", s.handleDeliverEvent)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Get("/workflow", s.handleGetWorkflow)
	r.Get("/journal/verify", s.handleVerifyJournal)
	return r
}

// Reload re-parses the workflow file and swaps it in. An invalid
// replacement is rejected and the previous descriptor stays active.
func (s *Server) Reload() error {
	wf, err := workflow.Load(s.path)
	if err != nil {
		return fmt.Errorf("reload workflow: %w", err)
	}
	s.mu.Lock()
	s.wf = wf
	s.mu.Unlock()
	s.logger.Info("workflow reloaded", "path", s.path, "name", wf.Name)
	return nil
}

func (s *Server) workflow() *workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wf
}

// POST /events: deliver an event. A matching event creates a run and kicks
// off execution in the background; a non-matching event is a no-op (204).
func (s *Server) handleDeliverEvent(w http.ResponseWriter, r *http.Request) {
	var ev workflow.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "cannot decode event", http.StatusBadRequest)
		return
	}
	if ev.Kind != workflow.EventPush && ev.Kind != workflow.EventPullRequest {
		http.Error(w, fmt.Sprintf("unknown event kind %q", ev.Kind), http.StatusBadRequest)
		return
	}

	wf := s.workflow()
	plan := runner.Plan(wf, ev)
	if len(plan) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	runID := uuid.NewString()
	pending := &runner.RunResult{
		ID:       runID,
		Workflow: wf.Name,
		Event:    ev,
		Status:   runner.StatusPending,
	}
	s.mu.Lock()
	s.runs[runID] = pending
	s.order = append(s.order, runID)
	s.mu.Unlock()

	go func() {
		res := s.runner.RunAs(context.Background(), runID, wf, ev)
		s.mu.Lock()
		s.runs[runID] = res
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":        runID,
		"status":    runner.StatusPending,
		"instances": len(plan),
	})
}

// GET /runs: newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]*runner.RunResult, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		list = append(list, s.runs[s.order[i]])
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// GET /runs/{runID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

// GET /workflow: the raw descriptor currently on disk.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		http.Error(w, "cannot read workflow file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	_, _ = w.Write(data)
}

// GET /journal/verify
func (s *Server) handleVerifyJournal(w http.ResponseWriter, r *http.Request) {
	j := s.runner.Journal()
	if j == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	if err := j.Verify(); err != nil {
		http.Error(w, "journal verification failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("journal verification ok\n"))
}
