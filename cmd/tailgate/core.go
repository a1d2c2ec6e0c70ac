package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// coreDeps are the outer collaborators of the control core. Publisher,
// Telemetry and Hub may be nil.
type coreDeps struct {
	Config    *config.Config
	Logger    *logging.Logger
	DB        *database.DB
	Publisher controller.Publisher
	Telemetry controller.Telemetry
	Hub       automation.WSHub
}

// core is the wired control stack: simulator, state machine, store,
// executor, evaluator, monitors, config library and engine, orchestrator
// and controller.
type core struct {
	machine    *statemachine.Machine
	sim        *actuator.Simulator
	store      *vehicle.Store
	executor   *action.Executor
	evaluator  *condition.Evaluator
	monitors   *monitor.Manager
	library    *automation.Library
	engine     *automation.Engine
	orch       *orchestrator.Orchestrator
	recovering *orchestrator.Recovering
	controller *controller.Controller
}

// buildCore wires the control stack bottom-up and starts the controller.
// The caller must call close.
func buildCore(ctx context.Context, deps coreDeps) (*core, error) {
	cfg := deps.Config
	log := deps.Logger
	ctl := cfg.Control

	initial, err := statemachine.ParseState(ctl.InitialState)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	machine, err := statemachine.New(
		statemachine.WithInitialState(initial),
		statemachine.WithHistorySize(ctl.HistorySize),
		statemachine.WithLogger(log.Component("statemachine")),
	)
	if err != nil {
		return nil, fmt.Errorf("creating state machine: %w", err)
	}

	sim := actuator.NewSimulator(actuator.SimulatorConfig{
		FullSpeed:    cfg.Actuator.FullSpeed,
		Tick:         cfg.Actuator.Tick(),
		InitialAngle: cfg.Actuator.InitialAngle,
	})
	sim.SetLogger(log.Component("actuator"))

	store := vehicle.NewStore(vehicle.DefaultSensors())
	store.Bind(sim, machine)

	executor := action.NewExecutor(machine, sim,
		action.WithDefaultSpeed(cfg.Actuator.DefaultSpeed),
		action.WithPollInterval(ctl.PollIntervalDuration()),
		action.WithMotionTimeout(ctl.MotionTimeoutDuration()),
		action.WithLogger(log.Component("executor")),
	)
	evaluator := condition.NewEvaluator(store,
		condition.WithInterval(ctl.PollIntervalDuration()),
		condition.WithDefaultTimeout(ctl.ConditionTimeoutDuration()),
		condition.WithLogger(log.Component("condition")),
	)

	ctrl := controller.New(controller.Deps{
		VehicleID:      cfg.Vehicle.ID,
		Machine:        machine,
		Executor:       executor,
		Store:          store,
		Evaluator:      evaluator,
		Publisher:      deps.Publisher,
		Telemetry:      deps.Telemetry,
		Logger:         log.Component("controller"),
		SpeedLimit:     ctl.SpeedLimit,
		AutoResetDelay: ctl.AutoResetDelayDuration(),
	})

	policy, err := monitor.ParsePolicy(ctl.MonitorPolicy)
	if err != nil {
		sim.Close()
		return nil, fmt.Errorf("monitor policy: %w", err)
	}
	monitors := monitor.NewManager(evaluator, ctrl,
		monitor.WithInterval(ctl.MonitorIntervalDuration()),
		monitor.WithPolicy(policy),
		monitor.WithLogger(log.Component("monitor")),
	)

	library := automation.NewLibrary(automation.NewSQLiteRepository(deps.DB.DB))
	library.SetLogger(log.Component("library"))
	if err := library.RefreshCache(ctx); err != nil {
		sim.Close()
		return nil, fmt.Errorf("loading config library: %w", err)
	}
	if err := seedLibrary(ctx, library, cfg, log); err != nil {
		sim.Close()
		return nil, err
	}

	engine := automation.NewEngine(automation.EngineDeps{
		Library:       library,
		Executor:      executor,
		Evaluator:     evaluator,
		Monitors:      monitors,
		State:         machine,
		Hub:           deps.Hub,
		Logger:        log.Component("engine"),
		MotionTimeout: ctl.MotionTimeoutDuration(),
		PollInterval:  ctl.PollIntervalDuration(),
		HistorySize:   ctl.ExecutionHistorySize,
	})

	orch := orchestrator.New(executor,
		orchestrator.WithEngine(engine),
		orchestrator.WithSpeedLimit(ctl.SpeedLimit),
		orchestrator.WithMotionTimeout(ctl.MotionTimeoutDuration()),
		orchestrator.WithPollInterval(ctl.PollIntervalDuration()),
		orchestrator.WithLogger(log.Component("orchestrator")),
	)

	var recovering *orchestrator.Recovering
	if cfg.Recovery.Enabled {
		recovering = orchestrator.NewRecovering(orch,
			orchestrator.SystemRecovery{Faults: store, Machine: machine, Logger: log.Component("recovery")},
			orchestrator.WithAttempts(cfg.Recovery.Attempts),
			orchestrator.WithBackoff(cfg.Recovery.BackoffDuration()),
		)
	}

	ctrl.Start()
	ctrl.ObserveEngine(engine)

	log.Info("control core ready",
		"vehicle_id", cfg.Vehicle.ID,
		"state", machine.Current(),
		"configs", library.Count(),
		"recovery", recovering != nil,
	)

	return &core{
		machine:    machine,
		sim:        sim,
		store:      store,
		executor:   executor,
		evaluator:  evaluator,
		monitors:   monitors,
		library:    library,
		engine:     engine,
		orch:       orch,
		recovering: recovering,
		controller: ctrl,
	}, nil
}

// seedLibrary adds the default configs and the configured import file.
func seedLibrary(ctx context.Context, library *automation.Library, cfg *config.Config, log *logging.Logger) error {
	if cfg.Library.SeedDefaults {
		if _, err := library.SeedDefaults(ctx, cfg.Control.SpeedLimit); err != nil {
			return fmt.Errorf("seeding default configs: %w", err)
		}
	}
	if cfg.Library.ImportFile == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.Library.ImportFile)
	if err != nil {
		return fmt.Errorf("reading config import file: %w", err)
	}
	result, err := library.Import(ctx, data, true)
	if err != nil {
		return fmt.Errorf("importing configs: %w", err)
	}
	for _, msg := range result.Errors {
		log.Warn("config import entry rejected", "error", msg)
	}
	log.Info("configs imported",
		"path", cfg.Library.ImportFile,
		"added", len(result.Added),
		"updated", len(result.Updated),
	)
	return nil
}

// close stops monitors, the controller and the simulator, in that order.
func (c *core) close() {
	c.monitors.Stop()
	c.controller.Close()
	c.sim.Close()
}
