package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// maxQueryParamLen bounds free-text query and path parameters.
const maxQueryParamLen = 100

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// stateResponse is the body of GET /state.
type stateResponse struct {
	VehicleID     string               `json:"vehicle_id"`
	State         statemachine.State   `json:"state"`
	IsMoving      bool                 `json:"is_moving"`
	TimeInStateMS int64                `json:"time_in_state_ms"`
	Allowed       []statemachine.State `json:"allowed_transitions"`
	Actuator      *actuator.Status     `json:"actuator,omitempty"`
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateSnapshot())
}

// stateSnapshot is also the ChannelState snapshot sent to new subscribers.
func (s *Server) stateSnapshot() stateResponse {
	current := s.machine.Current()
	resp := stateResponse{
		VehicleID:     s.vehicleID,
		State:         current,
		IsMoving:      current.IsMoving(),
		TimeInStateMS: s.machine.TimeInState().Milliseconds(),
		Allowed:       statemachine.AllowedFrom(current),
	}
	if drv := s.executor.Driver(); drv != nil {
		status := drv.Status()
		resp.Actuator = &status
	}
	return resp
}

// handleStateHistory returns recent transitions. The in-memory ring is
// used by default; source=persisted reads the SQLite history instead.
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}

	switch r.URL.Query().Get("source") {
	case "", "memory":
		records := s.machine.History(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"source":      "memory",
			"transitions": records,
			"count":       len(records),
		})
	case "persisted":
		if s.history == nil {
			writeUnavailable(w, "persisted history not configured")
			return
		}
		entries, err := s.history.List(r.Context(), s.vehicleID, limit)
		if err != nil {
			s.logger.Error("failed to list transitions", "error", err)
			writeInternalError(w, "failed to list transitions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":      "persisted",
			"transitions": entries,
			"count":       len(entries),
		})
	default:
		writeBadRequest(w, "source must be memory or persisted")
	}
}

// handleTransitionTable returns the allowed-transition table.
func (s *Server) handleTransitionTable(w http.ResponseWriter, _ *http.Request) {
	table := make(map[statemachine.State][]statemachine.State)
	for _, st := range statemachine.AllStates() {
		table[st] = statemachine.AllowedFrom(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": table})
}

// parseLimit reads ?limit=, applying def when absent and capping at max.
// It writes a 400 and returns false on a malformed value.
func parseLimit(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}
