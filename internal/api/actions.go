package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
)

// SourceAPI labels requests made over HTTP.
const SourceAPI = "api"

// actionRequest is the body of POST /actions.
type actionRequest struct {
	Action string        `json:"action"`
	Params action.Params `json:"params,omitempty"`

	// Wait blocks until the actuator stops moving. TimeoutMS bounds the
	// wait; zero uses the executor's motion timeout.
	Wait      bool `json:"wait,omitempty"`
	TimeoutMS int  `json:"timeout_ms,omitempty"`
}

// reasonRequest is the optional body of the emergency stop endpoints.
type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	kinds := action.AllKinds()
	out := make([]map[string]any, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, map[string]any{"action": k, "motion": k.IsMotion()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out, "speed": s.executor.Speed()})
}

// handleRunAction runs one action through the controller's safety gate.
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	kind, err := action.ParseKind(req.Action)
	if err != nil {
		writeDomainError(w, err, "invalid action")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}

	res, err := s.controller.Request(r.Context(), kind, req.Params, requestSource(r))
	if err != nil {
		writeDomainError(w, err, "action failed")
		return
	}

	if req.Wait && kind.IsMotion() {
		timeout := time.Duration(req.TimeoutMS) * time.Millisecond
		if err := s.executor.AwaitMotion(r.Context(), timeout); err != nil {
			writeError(w, http.StatusGatewayTimeout, ErrCodeInternal, err.Error())
			return
		}
		res.State = s.machine.Current()
	}

	writeJSON(w, http.StatusOK, res)
}

// handleSafety reports whether a motion request would pass the safety gate.
func (s *Server) handleSafety(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"safe": true}
	if err := s.controller.CheckSafety(); err != nil {
		resp["safe"] = false
		resp["reason"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "api emergency stop"
	}
	if err := s.controller.EmergencyStop(r.Context(), req.Reason); err != nil {
		writeDomainError(w, err, "emergency stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.machine.Current()})
}

func (s *Server) handleResetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	if err := s.controller.ResetEmergencyStop(req.Reason); err != nil {
		writeDomainError(w, err, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.machine.Current()})
}

func decodeReason(w http.ResponseWriter, r *http.Request) (reasonRequest, bool) {
	var req reasonRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return req, false
		}
	}
	if len(req.Reason) > maxQueryParamLen {
		writeBadRequest(w, "reason too long")
		return req, false
	}
	return req, true
}
