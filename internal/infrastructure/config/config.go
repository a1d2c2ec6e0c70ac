package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Tailgate Core.
// Values come from tailgate.yaml, then TAILGATE_* environment variables.
type Config struct {
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Control   ControlConfig   `yaml:"control"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Library   LibraryConfig   `yaml:"library"`
}

// VehicleConfig identifies the vehicle this instance controls.
// The ID is used in MQTT topics and telemetry tags.
type VehicleConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite file holding configs and history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig is the broker link used for commands, sensors and state.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig addresses the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Prefer TAILGATE_MQTT_PASSWORD.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes the event stream. Intervals are seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables telemetry export. FlushInterval is seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format and output stream.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ControlConfig tunes the control loop. Durations are in milliseconds.
type ControlConfig struct {
	// InitialState is the state machine's starting state.
	InitialState string `yaml:"initial_state"`

	PollInterval     int `yaml:"poll_interval_ms"`
	MotionTimeout    int `yaml:"motion_timeout_ms"`
	ConditionTimeout int `yaml:"condition_timeout_ms"`

	MonitorInterval int `yaml:"monitor_interval_ms"`
	// MonitorPolicy is "every_tick" or "on_edge".
	MonitorPolicy string `yaml:"monitor_policy"`

	// SpeedLimit is the vehicle speed (km/h) at or above which motion is refused.
	SpeedLimit float64 `yaml:"speed_limit"`

	// AutoResetDelay returns from emergency_stop to idle after this long.
	// Zero disables the automatic reset.
	AutoResetDelay int `yaml:"auto_reset_delay_ms"`

	HistorySize          int `yaml:"history_size"`
	ExecutionHistorySize int `yaml:"execution_history_size"`
}

// RecoveryConfig controls sequence retries.
type RecoveryConfig struct {
	Enabled   bool `yaml:"enabled"`
	Attempts  int  `yaml:"attempts"`
	BackoffMS int  `yaml:"backoff_ms"`
}

// ActuatorConfig configures the simulated actuator.
type ActuatorConfig struct {
	// FullSpeed is degrees per second at 100% speed.
	FullSpeed    float64 `yaml:"full_speed"`
	TickMS       int     `yaml:"tick_ms"`
	InitialAngle float64 `yaml:"initial_angle"`
	// DefaultSpeed is the percentage used when an action gives none.
	DefaultSpeed float64 `yaml:"default_speed"`
}

// LibraryConfig controls the config library at startup.
type LibraryConfig struct {
	SeedDefaults bool   `yaml:"seed_defaults"`
	ImportFile   string `yaml:"import_file"`
}

// Load layers path over defaultConfig, applies TAILGATE_SECTION_KEY
// overrides (TAILGATE_DATABASE_PATH, TAILGATE_API_PORT, ...) and validates.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig is the configuration used for every key the file omits.
func defaultConfig() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			ID:   "vehicle-001",
			Name: "Test Vehicle",
		},
		Database: DatabaseConfig{
			Path:        "./data/tailgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tailgate-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "tailgate",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Control: ControlConfig{
			InitialState:         "closed",
			PollInterval:         100,
			MotionTimeout:        30000,
			ConditionTimeout:     30000,
			MonitorInterval:      100,
			MonitorPolicy:        "every_tick",
			SpeedLimit:           5,
			AutoResetDelay:       0,
			HistorySize:          50,
			ExecutionHistorySize: 100,
		},
		Recovery: RecoveryConfig{
			Enabled:   true,
			Attempts:  3,
			BackoffMS: 1000,
		},
		Actuator: ActuatorConfig{
			FullSpeed:    30,
			TickMS:       50,
			InitialAngle: 0,
			DefaultSpeed: 50,
		},
		Library: LibraryConfig{
			SeedDefaults: true,
		},
	}
}

// applyEnvOverrides lets TAILGATE_* variables win over file values.
// Environment variables follow the pattern: TAILGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Vehicle
	if v := os.Getenv("TAILGATE_VEHICLE_ID"); v != "" {
		cfg.Vehicle.ID = v
	}

	// Database
	if v := os.Getenv("TAILGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TAILGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("TAILGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TAILGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TAILGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TAILGATE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("TAILGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("TAILGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Control
	if v := os.Getenv("TAILGATE_CONTROL_SPEED_LIMIT"); v != "" {
		if limit, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Control.SpeedLimit = limit
		}
	}
}

var (
	validStates = []string{"idle", "opening", "closing", "open", "closed", "paused", "emergency_stop"}
	validLevels = []string{"debug", "info", "warn", "error"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate reports every invalid field at once.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Vehicle.ID == "" {
		errs = append(errs, "vehicle.id is required")
	} else if strings.ContainsAny(c.Vehicle.ID, "/+# ") {
		errs = append(errs, "vehicle.id must not contain '/', '+', '#' or spaces")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Logging.Level != "" && !oneOf(c.Logging.Level, validLevels) {
		errs = append(errs, "logging.level must be debug, info, warn, or error")
	}

	if !oneOf(c.Control.InitialState, validStates) {
		errs = append(errs, fmt.Sprintf("control.initial_state %q is not a known state", c.Control.InitialState))
	}
	if c.Control.MonitorPolicy != "every_tick" && c.Control.MonitorPolicy != "on_edge" {
		errs = append(errs, "control.monitor_policy must be every_tick or on_edge")
	}
	if c.Control.SpeedLimit <= 0 {
		errs = append(errs, "control.speed_limit must be positive")
	}
	if c.Control.PollInterval <= 0 || c.Control.MonitorInterval <= 0 {
		errs = append(errs, "control poll and monitor intervals must be positive")
	}
	if c.Control.MotionTimeout <= 0 || c.Control.ConditionTimeout <= 0 {
		errs = append(errs, "control motion and condition timeouts must be positive")
	}
	if c.Control.AutoResetDelay < 0 {
		errs = append(errs, "control.auto_reset_delay_ms must not be negative")
	}

	if c.Recovery.Attempts < 1 {
		errs = append(errs, "recovery.attempts must be at least 1")
	}
	if c.Recovery.BackoffMS < 0 {
		errs = append(errs, "recovery.backoff_ms must not be negative")
	}

	if c.Actuator.InitialAngle < 0 || c.Actuator.InitialAngle > 90 {
		errs = append(errs, "actuator.initial_angle must be between 0 and 90")
	}
	if c.Actuator.DefaultSpeed < 1 || c.Actuator.DefaultSpeed > 100 {
		errs = append(errs, "actuator.default_speed must be between 1 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// GetReadTimeout is api.timeouts.read.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout is api.timeouts.write.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout is api.timeouts.idle.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// PollIntervalDuration returns the control loop polling period.
func (c ControlConfig) PollIntervalDuration() time.Duration { return ms(c.PollInterval) }

// MotionTimeoutDuration bounds each wait for the actuator to stop.
func (c ControlConfig) MotionTimeoutDuration() time.Duration { return ms(c.MotionTimeout) }

// ConditionTimeoutDuration is the default condition wait timeout.
func (c ControlConfig) ConditionTimeoutDuration() time.Duration { return ms(c.ConditionTimeout) }

// MonitorIntervalDuration is the monitor check period.
func (c ControlConfig) MonitorIntervalDuration() time.Duration { return ms(c.MonitorInterval) }

// AutoResetDelayDuration is the emergency auto-reset delay; zero means disabled.
func (c ControlConfig) AutoResetDelayDuration() time.Duration { return ms(c.AutoResetDelay) }

// BackoffDuration is the fixed delay between sequence attempts.
func (c RecoveryConfig) BackoffDuration() time.Duration { return ms(c.BackoffMS) }

// Tick is the simulator integration step.
func (c ActuatorConfig) Tick() time.Duration { return ms(c.TickMS) }
