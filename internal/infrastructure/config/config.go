package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry storage backends.
const (
	RegistryBackendFile   = "file"
	RegistryBackendSQLite = "sqlite"
)

// TriggerActions are the request verbs controller.trigger_action accepts.
// They match the device protocol's request verbs.
var TriggerActions = []string{"GET", "TOGGLE"}

// Config is the root configuration structure for homebus.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Topics     TopicsConfig     `yaml:"topics"`
	Registry   RegistryConfig   `yaml:"registry"`
	Database   DatabaseConfig   `yaml:"database"`
	Audit      AuditConfig      `yaml:"audit"`
	Controller ControllerConfig `yaml:"controller"`
	Readings   ReadingsConfig   `yaml:"readings"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// EmbeddedBrokerConfig controls the in-process MQTT broker.
//
// When enabled, homebus starts its own broker on Address and the client
// connects to it, so a single binary is enough for local experiments.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TopicsConfig contains the deployment constants of the topic namespace:
// <root>/<realm>/<group>/<kind>_<id>.
type TopicsConfig struct {
	Root  string `yaml:"root"`
	Realm string `yaml:"realm"`
	Group string `yaml:"group"`
}

// RegistryConfig contains device registry persistence settings.
type RegistryConfig struct {
	// Backend selects the snapshot store: "file" (JSON) or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the JSON snapshot path for the file backend.
	Path string `yaml:"path"`

	// SeedLastID is the counter value of the built-in default registry.
	SeedLastID int `yaml:"seed_last_id"`

	// AutosaveInterval is how often the registry is flushed (seconds, 0 disables).
	AutosaveInterval int `yaml:"autosave_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuditConfig controls the command history kept in the database.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ControllerConfig contains command orchestration settings.
type ControllerConfig struct {
	// ReplyTimeoutMS bounds every correlated wait.
	ReplyTimeoutMS int `yaml:"reply_timeout_ms"`

	// Threshold is the sensor value above which TriggerAction is sent to all switches.
	Threshold float64 `yaml:"threshold"`

	// TriggerAction is the request published to switches when Threshold is exceeded.
	TriggerAction string `yaml:"trigger_action"`
}

// ReadingsConfig contains the last-reading cache settings.
type ReadingsConfig struct {
	MaxCost     int64 `yaml:"max_cost"`
	NumCounters int64 `yaml:"num_counters"`
}

// APIConfig contains the HTTP API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"` // 0 picks a free port
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event stream settings. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// SimulatorConfig contains settings for the device simulators.
type SimulatorConfig struct {
	// DataDir holds sensors.json, switches.json and clocks.json.
	DataDir string `yaml:"data_dir"`

	Sensor SensorSimConfig `yaml:"sensor"`
	Switch SwitchSimConfig `yaml:"switch"`
	Watch  WatchSimConfig  `yaml:"watch"`
}

// SensorSimConfig controls the simulated temperature sensor.
// The value walks from Min to Max by Increment and wraps back to Min.
type SensorSimConfig struct {
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	Increment  float64 `yaml:"increment"`
	IntervalMS int     `yaml:"interval_ms"`
}

// SwitchSimConfig controls the simulated switch.
type SwitchSimConfig struct {
	// FailureProbability is the chance (0-1) that a TOGGLE gets no reply.
	FailureProbability float64 `yaml:"failure_probability"`
}

// WatchSimConfig controls the simulated clock.
type WatchSimConfig struct {
	// Start is the initial time, HH:MM:SS. Empty means the current time.
	Start string `yaml:"start"`

	// IncrementSeconds is how far the clock advances per tick.
	IncrementSeconds int `yaml:"increment_seconds"`

	// RateMS is the time between ticks.
	RateMS int `yaml:"rate_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMEBUS_SECTION_KEY
// For example: HOMEBUS_MQTT_HOST, HOMEBUS_REGISTRY_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// The topic namespace and seed registry match the original deployment.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homebus-controller",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Embedded: EmbeddedBrokerConfig{
				Address: "127.0.0.1:1883",
			},
		},
		Topics: TopicsConfig{
			Root:  "redes2",
			Realm: "2312",
			Group: "1",
		},
		Registry: RegistryConfig{
			Backend:          RegistryBackendFile,
			Path:             "data/devices.json",
			SeedLastID:       3,
			AutosaveInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "data/homebus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Controller: ControllerConfig{
			ReplyTimeoutMS: 5000,
			Threshold:      25,
			TriggerAction:  "TOGGLE",
		},
		Readings: ReadingsConfig{
			MaxCost:     1 << 20,
			NumCounters: 10000,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Simulator: SimulatorConfig{
			DataDir: "data",
			Sensor: SensorSimConfig{
				Min:        20,
				Max:        30,
				Increment:  1,
				IntervalMS: 1000,
			},
			Switch: SwitchSimConfig{
				FailureProbability: 0.3,
			},
			Watch: WatchSimConfig{
				IncrementSeconds: 1,
				RateMS:           1000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("HOMEBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMEBUS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HOMEBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMEBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Registry
	if v := os.Getenv("HOMEBUS_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("HOMEBUS_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}

	// Database
	if v := os.Getenv("HOMEBUS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HOMEBUS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("HOMEBUS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMEBUS_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("HOMEBUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.Embedded.Enabled && c.MQTT.Embedded.Address == "" {
		errs = append(errs, "mqtt.embedded.address is required when the embedded broker is enabled")
	}

	// Topic namespace validation
	for name, segment := range map[string]string{
		"topics.root":  c.Topics.Root,
		"topics.realm": c.Topics.Realm,
		"topics.group": c.Topics.Group,
	} {
		if segment == "" {
			errs = append(errs, name+" is required")
		} else if strings.ContainsAny(segment, "/+#") {
			errs = append(errs, name+" must not contain '/', '+' or '#'")
		}
	}

	// Registry validation
	switch c.Registry.Backend {
	case RegistryBackendFile:
		if c.Registry.Path == "" {
			errs = append(errs, "registry.path is required for the file backend")
		}
	case RegistryBackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, "registry.backend must be \"file\" or \"sqlite\"")
	}
	if c.Registry.SeedLastID < 0 {
		errs = append(errs, "registry.seed_last_id must not be negative")
	}
	if c.Registry.AutosaveInterval < 0 {
		errs = append(errs, "registry.autosave_interval must not be negative")
	}

	if c.Audit.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when audit is enabled")
	}

	// Controller validation
	if c.Controller.ReplyTimeoutMS <= 0 {
		errs = append(errs, "controller.reply_timeout_ms must be positive")
	}
	if !slices.Contains(TriggerActions, c.Controller.TriggerAction) {
		errs = append(errs, fmt.Sprintf("controller.trigger_action %q must be one of %s",
			c.Controller.TriggerAction, strings.Join(TriggerActions, ", ")))
	}

	// Simulator validation
	if c.Simulator.Sensor.Min > c.Simulator.Sensor.Max {
		errs = append(errs, "simulator.sensor.min must not exceed simulator.sensor.max")
	}
	if c.Simulator.Sensor.Increment <= 0 {
		errs = append(errs, "simulator.sensor.increment must be positive")
	}
	if c.Simulator.Sensor.IntervalMS <= 0 || c.Simulator.Watch.RateMS <= 0 {
		errs = append(errs, "simulator intervals must be positive")
	}
	if p := c.Simulator.Switch.FailureProbability; p < 0 || p > 1 {
		errs = append(errs, "simulator.switch.failure_probability must be between 0 and 1")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
		if c.API.Timeouts.Read <= 0 || c.API.Timeouts.Write <= 0 || c.API.Timeouts.Idle <= 0 {
			errs = append(errs, "api.timeouts must be positive")
		}
		ws := c.API.WebSocket
		if ws.MaxMessageSize <= 0 || ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
			errs = append(errs, "api.websocket settings must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReplyTimeout returns the controller reply timeout as a Duration.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Controller.ReplyTimeoutMS) * time.Millisecond
}

// APIReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) APIReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// APIWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) APIWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// APIIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) APIIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AutosaveInterval returns the registry autosave interval as a Duration.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Registry.AutosaveInterval) * time.Second
}
