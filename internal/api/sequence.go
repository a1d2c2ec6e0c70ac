package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
)

// sequenceRequest is the body of POST /sequence/start. When Actions is
// non-empty it replaces the queue before the run.
type sequenceRequest struct {
	orchestrator.SequenceOptions
	Actions []action.Action `json:"actions,omitempty"`

	// Recover retries a failed sequence with the recovery procedure in
	// between, when the server was built with one.
	Recover bool `json:"recover,omitempty"`
}

// actionsRequest is the body of the queue and parallel endpoints.
type actionsRequest struct {
	Actions []action.Action `json:"actions"`
}

func (s *Server) handleSequenceStatus(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.orchestrator.Status())
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	var req actionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeBadRequest(w, "no actions given")
		return
	}
	if err := s.orchestrator.Enqueue(req.Actions...); err != nil {
		writeDomainError(w, err, "failed to enqueue actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": s.orchestrator.Queue()})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	if err := s.orchestrator.Clear(); err != nil {
		writeDomainError(w, err, "failed to clear queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartSequence runs the queue in the background and answers 202.
// Lifecycle events arrive via WebSocket on ChannelSequence.
func (s *Server) handleStartSequence(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	var req sequenceRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}
	if req.MaxLoopCount < 0 {
		writeBadRequest(w, "max_loop_count must not be negative")
		return
	}
	if req.Recover && s.recovering == nil {
		writeUnavailable(w, "recovery not configured")
		return
	}
	if len(req.Actions) > 0 {
		if err := s.orchestrator.LoadScenario(orchestrator.Scenario{ID: req.Name, Actions: req.Actions}); err != nil {
			writeDomainError(w, err, "invalid actions")
			return
		}
	}

	s.startSequence(w, req.SequenceOptions, req.Recover)
}

func (s *Server) startSequence(w http.ResponseWriter, opts orchestrator.SequenceOptions, withRecovery bool) {
	if s.orchestrator.IsExecuting() {
		writeDomainError(w, orchestrator.ErrAlreadyRunning, "")
		return
	}
	if len(s.orchestrator.Queue()) == 0 {
		writeDomainError(w, orchestrator.ErrEmptyQueue, "")
		return
	}
	if opts.SafeMode && s.engine == nil {
		writeDomainError(w, orchestrator.ErrSafeModeUnavailable, "")
		return
	}

	run := s.orchestrator.ExecuteSequence
	if withRecovery {
		run = s.recovering.ExecuteSequence
	}
	s.goBackground(func(ctx context.Context) {
		if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("sequence failed", "sequence", opts.Name, "error", err)
		}
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"sequence": opts.Name,
		"message":  "sequence started, progress will follow via WebSocket",
	})
}

func (s *Server) handleStopSequence(w http.ResponseWriter, _ *http.Request) {
	s.sequenceControl(w, "stopped", func() error { return s.orchestrator.StopSequence() })
}

func (s *Server) handlePauseSequence(w http.ResponseWriter, _ *http.Request) {
	s.sequenceControl(w, "paused", func() error { return s.orchestrator.PauseSequence() })
}

func (s *Server) handleResumeSequence(w http.ResponseWriter, _ *http.Request) {
	s.sequenceControl(w, "resumed", func() error { return s.orchestrator.ResumeSequence() })
}

func (s *Server) sequenceControl(w http.ResponseWriter, status string, fn func() error) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	if err := fn(); err != nil {
		writeDomainError(w, err, "sequence control failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// handleParallel runs a batch of actions concurrently and returns every
// result. Motion is dispatched but not awaited.
func (s *Server) handleParallel(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	var req actionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeBadRequest(w, "no actions given")
		return
	}

	results, err := s.orchestrator.ExecuteParallel(r.Context(), req.Actions)
	if err != nil && results == nil {
		writeDomainError(w, err, "parallel batch failed")
		return
	}
	resp := map[string]any{"results": results, "success": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	scenarios := orchestrator.BuiltinScenarios()
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios, "count": len(scenarios)})
}

// handleRunScenario loads a built-in scenario into the queue and starts it.
func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeUnavailable(w, "orchestrator not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid scenario ID")
		return
	}
	scenario, err := orchestrator.FindScenario(id)
	if err != nil {
		writeDomainError(w, err, "failed to find scenario")
		return
	}
	if err := s.orchestrator.LoadScenario(scenario); err != nil {
		writeDomainError(w, err, "failed to load scenario")
		return
	}

	opts := scenario.Options()
	opts.SafeMode = r.URL.Query().Get("safe_mode") == "true"
	s.startSequence(w, opts, s.recovering != nil && r.URL.Query().Get("recover") == "true")
}
