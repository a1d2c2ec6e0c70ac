package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/tailgate-core/internal/api"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/history"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailgate-core/internal/metrics"
)

const (
	// telemetryInterval is how often a vehicle snapshot goes to MQTT and InfluxDB.
	telemetryInterval = 5 * time.Second

	// historyRetention bounds the persisted transition log.
	historyRetention = 30 * 24 * time.Hour
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tailgate control service.",
		Long: `Starts the control core, the HTTP/WebSocket API and, when enabled,
the MQTT command/sensor bridge and InfluxDB telemetry. Runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve is the service lifecycle, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func serve(ctx context.Context, cfg *config.Config) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.New(cfg.Logging, version)
	log.Info("starting Tailgate Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"vehicle_id", cfg.Vehicle.ID,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var publisher controller.Publisher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Vehicle.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var telemetry controller.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection",
				"points_queued", stats.Queued,
				"points_skipped", stats.Skipped,
				"write_errors", stats.Failed,
			)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is shared: the engine broadcasts to it and the API serves it.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	c, err := buildCore(ctx, coreDeps{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Publisher: publisher,
		Telemetry: telemetry,
		Hub:       hub,
	})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping control core")
		c.close()
	}()

	if mqttClient != nil {
		if subErr := c.controller.SubscribeMQTT(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil { //nolint:gosec // QoS validated to 0-2
			return fmt.Errorf("subscribing MQTT handlers: %w", subErr)
		}
		log.Info("MQTT handlers subscribed", "command_topic", mqttClient.Topics().Command())
	}
	if publisher != nil || telemetry != nil {
		go c.controller.RunTelemetry(ctx, telemetryInterval)
	}

	// Persist transitions
	historyRepo := history.NewSQLiteRepository(db.DB)
	defer history.NewRecorder(historyRepo, cfg.Vehicle.ID, log.Component("history")).Attach(c.machine)()
	if pruned, pruneErr := historyRepo.Prune(ctx, historyRetention); pruneErr != nil {
		log.Warn("pruning transition history failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("transition history pruned", "removed", pruned)
	}

	// Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	for _, unsub := range []func(){
		m.ObserveMachine(c.machine),
		m.ObserveExecutor(c.executor),
		m.ObserveEngine(c.engine),
		m.ObserveMonitors(c.monitors),
		m.ObserveOrchestrator(c.orch),
		m.ObserveFaults(c.store),
		m.ObserveController(c.controller),
	} {
		defer unsub()
	}

	// HTTP API
	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		VehicleID:    cfg.Vehicle.ID,
		Machine:      c.machine,
		Controller:   c.controller,
		Executor:     c.executor,
		Store:        c.store,
		Library:      c.library,
		Engine:       c.engine,
		Monitors:     c.monitors,
		Orchestrator: c.orch,
		Recovering:   c.recovering,
		History:      historyRepo,
		Gatherer:     reg,
		MQTT:         mqttClient,
		DB:           db,
		ExternalHub:  hub,
		Version:      version,
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, metrics observers,
	// history recorder, control core, hub, InfluxDB, MQTT, database.

	log.Info("Tailgate Core stopped")
	return nil
}
