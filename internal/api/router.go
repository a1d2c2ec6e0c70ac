package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Tailgate state machine
		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Get("/history", s.handleStateHistory)
			r.Get("/transitions", s.handleTransitionTable)
		})

		// Vehicle inputs
		r.Route("/vehicle", func(r chi.Router) {
			r.Get("/", s.handleGetSnapshot)
			r.Get("/sensors", s.handleGetSensors)
			r.Put("/sensors", s.handleSetSensors)
			r.Put("/sensors/{name}", s.handleSetSensor)
			r.Get("/faults", s.handleListFaults)
			r.Post("/faults", s.handleRaiseFault)
			r.Delete("/faults", s.handleClearAllFaults)
			r.Delete("/faults/{kind}", s.handleClearFault)
		})

		// Single actions
		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Post("/", s.handleRunAction)
			r.Get("/safety", s.handleSafety)
			r.Post("/emergency-stop", s.handleEmergencyStop)
			r.Post("/emergency-stop/reset", s.handleResetEmergencyStop)
		})

		// Config library
		r.Route("/configs", func(r chi.Router) {
			r.Get("/", s.handleListConfigs)
			r.Post("/", s.handleCreateConfig)
			r.Get("/export", s.handleExportConfigs)
			r.Post("/import", s.handleImportConfigs)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConfig)
				r.Put("/", s.handleUpdateConfig)
				r.Delete("/", s.handleDeleteConfig)
				r.Post("/execute", s.handleExecuteConfig)
			})
		})

		// Config engine
		r.Route("/engine", func(r chi.Router) {
			r.Get("/", s.handleEngineStatus)
			r.Post("/stop", s.handleEngineStop)
			r.Post("/pause", s.handleEnginePause)
			r.Post("/resume", s.handleEngineResume)
			r.Get("/executions", s.handleListExecutions)
			r.Get("/executions/{id}", s.handleGetExecution)
		})

		// Sequence orchestrator
		r.Route("/sequence", func(r chi.Router) {
			r.Get("/", s.handleSequenceStatus)
			r.Post("/queue", s.handleEnqueue)
			r.Delete("/queue", s.handleClearQueue)
			r.Post("/start", s.handleStartSequence)
			r.Post("/stop", s.handleStopSequence)
			r.Post("/pause", s.handlePauseSequence)
			r.Post("/resume", s.handleResumeSequence)
			r.Post("/parallel", s.handleParallel)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handleListScenarios)
			r.Post("/{id}/run", s.handleRunScenario)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. MQTT and the database
// are reported when configured; their failure degrades the status but the
// endpoint still answers 200 so the control loop is not restarted for a
// broker outage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
		cancel()
	}
	if s.mqtt != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			checks["mqtt"] = err.Error()
			status = "degraded"
		} else {
			checks["mqtt"] = "ok"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"vehicle_id": s.vehicleID,
		"state":      s.machine.Current(),
		"checks":     checks,
	})
}
