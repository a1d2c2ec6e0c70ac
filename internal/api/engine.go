package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxExecutions = 100

// handleEngineStatus reports the running execution and active monitors.
func (s *Server) handleEngineStatus(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "config engine not configured")
		return
	}
	resp := map[string]any{
		"running": s.engine.IsRunning(),
		"paused":  s.engine.IsPaused(),
		"current": s.engine.Current(),
	}
	if s.monitors != nil {
		resp["monitors"] = s.monitors.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	s.engineControl(w, "stopped", func() error { return s.engine.Stop() })
}

func (s *Server) handleEnginePause(w http.ResponseWriter, _ *http.Request) {
	s.engineControl(w, "paused", func() error { return s.engine.Pause() })
}

func (s *Server) handleEngineResume(w http.ResponseWriter, _ *http.Request) {
	s.engineControl(w, "resumed", func() error { return s.engine.Resume() })
}

func (s *Server) engineControl(w http.ResponseWriter, status string, fn func() error) {
	if s.engine == nil {
		writeUnavailable(w, "config engine not configured")
		return
	}
	if err := fn(); err != nil {
		writeDomainError(w, err, "engine control failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// handleListExecutions returns recent executions, newest first. With
// ?config_id= the persisted records for that config are returned instead
// of the in-memory history.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "config engine not configured")
		return
	}
	limit, ok := parseLimit(w, r, maxExecutions, maxExecutions)
	if !ok {
		return
	}

	configID := r.URL.Query().Get("config_id")
	if configID == "" {
		executions := s.engine.Executions(limit)
		writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
		return
	}
	if len(configID) > maxQueryParamLen {
		writeBadRequest(w, "invalid config ID")
		return
	}
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	if _, err := s.library.Get(r.Context(), configID); err != nil {
		writeDomainError(w, err, "failed to get config")
		return
	}
	executions, err := s.library.Repository().ListExecutions(r.Context(), configID, limit)
	if err != nil {
		s.logger.Error("failed to list executions", "config_id", configID, "error", err)
		writeInternalError(w, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "config engine not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid execution ID")
		return
	}
	exec, err := s.engine.Execution(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
