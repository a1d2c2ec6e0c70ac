// Package api provides the HTTP REST API and WebSocket server for Tailgate Core.
//
// It exposes the tailgate state machine, vehicle sensors and faults, action
// requests, the config library and engine, and the sequence orchestrator to
// dashboards and test harnesses.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/history"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	VehicleID  string
	Machine    *statemachine.Machine
	Controller *controller.Controller
	Executor   *action.Executor
	Store      *vehicle.Store

	// Optional components. Routes backed by a missing component answer 503.
	Library      *automation.Library
	Engine       *automation.Engine
	Monitors     *monitor.Manager
	Orchestrator *orchestrator.Orchestrator
	Recovering   *orchestrator.Recovering
	History      history.Repository
	Gatherer     prometheus.Gatherer
	MQTT         *mqtt.Client
	DB           *database.DB

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for Tailgate Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	vehicleID    string
	machine      *statemachine.Machine
	controller   *controller.Controller
	executor     *action.Executor
	store        *vehicle.Store
	library      *automation.Library
	engine       *automation.Engine
	monitors     *monitor.Manager
	orchestrator *orchestrator.Orchestrator
	recovering   *orchestrator.Recovering
	history      history.Repository
	gatherer     prometheus.Gatherer
	mqtt         *mqtt.Client
	db           *database.DB
	version      string
	startTime    time.Time
	server       *http.Server
	hub          *Hub
	externalHub  bool // true if hub was injected externally

	// ctx outlives requests; background sequences and executions run on it.
	ctx    context.Context
	cancel context.CancelFunc
	relays []func()
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, machine, controller, executor, store)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("state machine is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("action executor is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("vehicle store is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		vehicleID:    deps.VehicleID,
		machine:      deps.Machine,
		controller:   deps.Controller,
		executor:     deps.Executor,
		store:        deps.Store,
		library:      deps.Library,
		engine:       deps.Engine,
		monitors:     deps.Monitors,
		orchestrator: deps.Orchestrator,
		recovering:   deps.Recovering,
		history:      deps.History,
		gatherer:     deps.Gatherer,
		mqtt:         deps.MQTT,
		db:           deps.DB,
		version:      deps.Version,
		startTime:    time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Use externally-provided hub if available (needed when Engine also
	// requires the hub for WebSocket broadcasting).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays component events to it, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and background runs
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Re-parent the background context so both ctx and Close() stop it.
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(s.ctx)
	}

	s.startRelay()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It stops the event relay, cancels background runs and waits up to 10
// seconds for in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.stopRelay()
	s.cancel()
	s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// goBackground runs fn on the server context. Close waits for it.
func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}
