package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailgate-core/internal/automation"
)

// executionStartWait bounds how long an asynchronous execute request waits
// for the engine to assign an execution ID.
const executionStartWait = 2 * time.Second

// handleListConfigs lists the library. ?category= filters by category and
// ?q= searches ID, name, description and tags.
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}

	category := r.URL.Query().Get("category")
	query := r.URL.Query().Get("q")
	if len(category) > maxQueryParamLen || len(query) > maxQueryParamLen {
		writeBadRequest(w, "query parameter too long")
		return
	}

	var configs []automation.Config
	switch {
	case query != "":
		configs = s.library.Search(r.Context(), query)
		if category != "" {
			configs = filterCategory(configs, automation.Category(category))
		}
	case category != "":
		configs = s.library.ListByCategory(r.Context(), automation.Category(category))
	default:
		configs = s.library.List(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{"configs": configs, "count": len(configs)})
}

func filterCategory(configs []automation.Config, category automation.Category) []automation.Config {
	out := configs[:0]
	for _, c := range configs {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	id, ok := configID(w, r)
	if !ok {
		return
	}
	cfg, err := s.library.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	var cfg automation.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.library.Add(r.Context(), &cfg); err != nil {
		writeDomainError(w, err, "failed to create config")
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// handleUpdateConfig replaces a config. The path ID wins over any ID in
// the body.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	id, ok := configID(w, r)
	if !ok {
		return
	}
	if _, err := s.library.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to get config")
		return
	}

	var cfg automation.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	cfg.ID = id
	if err := s.library.Update(r.Context(), &cfg); err != nil {
		writeDomainError(w, err, "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	id, ok := configID(w, r)
	if !ok {
		return
	}
	if err := s.library.Remove(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to delete config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportConfigs returns the library, or ?ids=a,b, as a JSON array
// suitable for import.
func (s *Server) handleExportConfigs(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	data, err := s.library.Export(r.Context(), ids...)
	if err != nil {
		writeDomainError(w, err, "failed to export configs")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="tailgate-configs.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // Best-effort write to response
}

// handleImportConfigs imports a config or a list of configs, JSON or YAML.
// ?overwrite=true replaces existing IDs.
func (s *Server) handleImportConfigs(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeUnavailable(w, "config library not configured")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	overwrite := r.URL.Query().Get("overwrite") == "true"

	result, err := s.library.Import(r.Context(), data, overwrite)
	if err != nil {
		writeDomainError(w, err, "failed to import configs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// executeRequest is the optional body of POST /configs/{id}/execute.
type executeRequest struct {
	TriggerType   string `json:"trigger_type"`
	TriggerSource string `json:"trigger_source"`
}

// handleExecuteConfig starts a config execution.
//
// By default the execution runs in the background and the response is 202
// Accepted with the execution ID; progress arrives via WebSocket on
// ChannelConfig. ?wait=true runs it to completion and returns the record.
func (s *Server) handleExecuteConfig(w http.ResponseWriter, r *http.Request) {
	if s.library == nil || s.engine == nil {
		writeUnavailable(w, "config engine not configured")
		return
	}
	id, ok := configID(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	trig := automation.Trigger{Type: req.TriggerType, Source: req.TriggerSource}
	if trig.Type == "" {
		trig.Type = "manual"
	}
	if trig.Source == "" {
		trig.Source = requestSource(r)
	}

	if _, err := s.library.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to get config")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		exec, err := s.engine.Execute(r.Context(), id, trig)
		if exec == nil {
			writeDomainError(w, err, "failed to execute config")
			return
		}
		writeJSON(w, http.StatusOK, exec)
		return
	}

	if s.engine.IsRunning() {
		writeConflict(w, automation.ErrExecutionAlreadyRunning.Error())
		return
	}

	executionID, err := s.startExecution(id, trig)
	if err != nil {
		writeDomainError(w, err, "failed to execute config")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": executionID,
		"config_id":    id,
		"status":       "accepted",
		"message":      "config execution started, progress will follow via WebSocket",
	})
}

// startExecution runs the config on the server context and returns the
// execution ID once the engine has assigned one. An empty ID with a nil
// error means the engine did not start in time.
func (s *Server) startExecution(id string, trig automation.Trigger) (string, error) {
	type outcome struct {
		id  string
		err error
	}
	started := make(chan outcome, 1)
	unsubscribe := s.engine.Subscribe(func(ev automation.Event) {
		if ev.ConfigID != id {
			return
		}
		var o outcome
		switch {
		case ev.Type == automation.EventExecutionStarted:
			o.id = ev.ExecutionID
		case ev.Type == automation.EventExecutionError && ev.ExecutionID == "":
			o.err = ev.Err
		default:
			return
		}
		select {
		case started <- o:
		default:
		}
	})
	defer unsubscribe()

	s.goBackground(func(ctx context.Context) {
		exec, err := s.engine.Execute(ctx, id, trig)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("background config execution failed", "config_id", id, "error", err)
			return
		}
		if exec != nil {
			s.logger.Info("background config execution finished", "config_id", id, "status", exec.Status)
		}
	})

	select {
	case o := <-started:
		return o.id, o.err
	case <-time.After(executionStartWait):
		return "", nil
	}
}

func configID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid config ID")
		return "", false
	}
	return id, true
}
