package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

func (s *Server) handleGetSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleGetSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors":      s.store.Sensors(),
		"system_ready": s.store.Snapshot().SystemReady,
	})
}

// handleSetSensors applies several readings at once:
//
//	{"vehicle_speed": 12, "obstacle_detected": true}
//
// Values go through the same parser as MQTT sensor messages, so unknown
// names and malformed values are rejected. Readings before the first bad
// one have already been applied.
func (s *Server) handleSetSensors(w http.ResponseWriter, r *http.Request) {
	var readings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&readings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(readings) == 0 {
		writeBadRequest(w, "no sensor readings given")
		return
	}

	for name, v := range readings {
		if err := s.store.UpdateSensor(name, sensorText(v)); err != nil {
			writeDomainError(w, err, "failed to update sensor")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// sensorValue is the body of PUT /vehicle/sensors/{name}.
type sensorValue struct {
	Value any `json:"value"`
}

func (s *Server) handleSetSensor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid sensor name")
		return
	}

	var req sensorValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := s.store.UpdateSensor(name, sensorText(req.Value)); err != nil {
		writeDomainError(w, err, "failed to update sensor")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// sensorText renders a decoded JSON value the way it would arrive over MQTT.
func sensorText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (s *Server) handleListFaults(w http.ResponseWriter, _ *http.Request) {
	faults := s.store.Faults()
	writeJSON(w, http.StatusOK, map[string]any{"faults": faults, "count": len(faults)})
}

// raiseFaultRequest is the body of POST /vehicle/faults.
type raiseFaultRequest struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// handleRaiseFault injects a fault. A moving tailgate is stopped by the
// controller as a side effect.
func (s *Server) handleRaiseFault(w http.ResponseWriter, r *http.Request) {
	var req raiseFaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	kind, err := vehicle.ParseFaultKind(req.Kind)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.store.RaiseFault(kind, req.Message)
	writeJSON(w, http.StatusCreated, map[string]any{
		"faults": s.store.Faults(),
		"state":  s.machine.Current(),
	})
}

func (s *Server) handleClearFault(w http.ResponseWriter, r *http.Request) {
	kind, err := vehicle.ParseFaultKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.store.ClearFault(kind) {
		writeNotFound(w, "fault not active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": kind})
}

func (s *Server) handleClearAllFaults(w http.ResponseWriter, _ *http.Request) {
	n := s.store.ClearAllFaults()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}
