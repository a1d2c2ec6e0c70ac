package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnsafe         = "unsafe"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeUnavailable writes a 503 error response for an unconfigured component.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error to its HTTP status. Unknown errors
// become 500 with fallback as the message.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, controller.ErrUnsafe):
		writeError(w, http.StatusConflict, ErrCodeUnsafe, err.Error())
	case errors.Is(err, action.ErrUnknownAction),
		errors.Is(err, action.ErrInvalidParams),
		errors.Is(err, vehicle.ErrUnknownSensor),
		errors.Is(err, vehicle.ErrInvalidSensorValue),
		errors.Is(err, automation.ErrInvalidConfig),
		errors.Is(err, automation.ErrInvalidStep),
		errors.Is(err, automation.ErrInvalidName),
		errors.Is(err, automation.ErrInvalidID),
		errors.Is(err, automation.ErrNoSteps):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, automation.ErrConfigNotFound),
		errors.Is(err, automation.ErrExecutionNotFound),
		errors.Is(err, orchestrator.ErrScenarioNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, statemachine.ErrIllegalTransition),
		errors.Is(err, controller.ErrNotStopped),
		errors.Is(err, controller.ErrFaultsActive),
		errors.Is(err, action.ErrNotPaused),
		errors.Is(err, automation.ErrConfigExists),
		errors.Is(err, automation.ErrExecutionAlreadyRunning),
		errors.Is(err, automation.ErrNotRunning),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, orchestrator.ErrEmptyQueue):
		writeConflict(w, err.Error())
	case errors.Is(err, action.ErrActuatorUnavailable),
		errors.Is(err, orchestrator.ErrSafeModeUnavailable):
		writeUnavailable(w, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}
