package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "test-client"
  qos: 1
topics:
  root: "home"
  realm: "lab"
  group: "7"
registry:
  backend: "sqlite"
  seed_last_id: 10
database:
  path: "/tmp/test.db"
controller:
  reply_timeout_ms: 750
  threshold: 30.5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.Topics.Root != "home" || cfg.Topics.Realm != "lab" || cfg.Topics.Group != "7" {
		t.Errorf("Topics = %+v, want home/lab/7", cfg.Topics)
	}
	if cfg.Registry.Backend != RegistryBackendSQLite {
		t.Errorf("Registry.Backend = %q, want %q", cfg.Registry.Backend, RegistryBackendSQLite)
	}
	if cfg.Registry.SeedLastID != 10 {
		t.Errorf("Registry.SeedLastID = %d, want 10", cfg.Registry.SeedLastID)
	}
	if got := cfg.ReplyTimeout(); got != 750*time.Millisecond {
		t.Errorf("ReplyTimeout() = %v, want 750ms", got)
	}
	if cfg.Controller.Threshold != 30.5 {
		t.Errorf("Controller.Threshold = %v, want 30.5", cfg.Controller.Threshold)
	}

	// Untouched sections keep their defaults.
	if cfg.Controller.TriggerAction != "TOGGLE" {
		t.Errorf("Controller.TriggerAction = %q, want TOGGLE", cfg.Controller.TriggerAction)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if cfg.Topics.Root != "redes2" {
		t.Errorf("Topics.Root = %q, want redes2", cfg.Topics.Root)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
topics:
  root: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty topics.root, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "missing client id",
			mutate:  func(c *Config) { c.MQTT.Broker.ClientID = "" },
			wantErr: "client_id",
		},
		{
			name: "embedded broker without address",
			mutate: func(c *Config) {
				c.MQTT.Embedded.Enabled = true
				c.MQTT.Embedded.Address = ""
			},
			wantErr: "mqtt.embedded.address",
		},
		{
			name:    "wildcard in topic segment",
			mutate:  func(c *Config) { c.Topics.Realm = "a/b" },
			wantErr: "topics.realm",
		},
		{
			name:    "unknown registry backend",
			mutate:  func(c *Config) { c.Registry.Backend = "etcd" },
			wantErr: "registry.backend",
		},
		{
			name:    "file backend without path",
			mutate:  func(c *Config) { c.Registry.Path = "" },
			wantErr: "registry.path",
		},
		{
			name: "sqlite backend without database path",
			mutate: func(c *Config) {
				c.Registry.Backend = RegistryBackendSQLite
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name: "audit without database path",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "audit is enabled",
		},
		{
			name:    "non-positive reply timeout",
			mutate:  func(c *Config) { c.Controller.ReplyTimeoutMS = 0 },
			wantErr: "reply_timeout_ms",
		},
		{
			name:    "empty trigger action",
			mutate:  func(c *Config) { c.Controller.TriggerAction = "" },
			wantErr: "controller.trigger_action",
		},
		{
			name:    "unknown trigger action",
			mutate:  func(c *Config) { c.Controller.TriggerAction = "EXPLODE" },
			wantErr: "controller.trigger_action",
		},
		{
			name:    "lowercase trigger action",
			mutate:  func(c *Config) { c.Controller.TriggerAction = "toggle" },
			wantErr: "controller.trigger_action",
		},
		{
			name:   "read as trigger action",
			mutate: func(c *Config) { c.Controller.TriggerAction = "GET" },
		},
		{
			name:    "sensor range inverted",
			mutate:  func(c *Config) { c.Simulator.Sensor.Min = 40 },
			wantErr: "simulator.sensor.min",
		},
		{
			name:    "failure probability above one",
			mutate:  func(c *Config) { c.Simulator.Switch.FailureProbability = 1.5 },
			wantErr: "failure_probability",
		},
		{
			name:    "zero watch rate",
			mutate:  func(c *Config) { c.Simulator.Watch.RateMS = 0 },
			wantErr: "simulator intervals",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "api port out of range",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: "api.port",
		},
		{
			name: "api zero timeout",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Timeouts.Write = 0
			},
			wantErr: "api.timeouts",
		},
		{
			name: "api websocket zero ping",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.WebSocket.PingInterval = 0
			},
			wantErr: "api.websocket",
		},
		{
			name:   "disabled api is not checked",
			mutate: func(c *Config) { c.API.Port = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("HOMEBUS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HOMEBUS_MQTT_PORT", "8883")
	t.Setenv("HOMEBUS_MQTT_USERNAME", "testuser")
	t.Setenv("HOMEBUS_MQTT_PASSWORD", "testpass")
	t.Setenv("HOMEBUS_REGISTRY_PATH", "/var/lib/homebus/devices.json")
	t.Setenv("HOMEBUS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HOMEBUS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HOMEBUS_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Registry.Path != "/var/lib/homebus/devices.json" {
		t.Errorf("Registry.Path = %q", cfg.Registry.Path)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("HOMEBUS_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Registry.SeedLastID != 3 {
		t.Errorf("Default Registry.SeedLastID = %d, want 3", cfg.Registry.SeedLastID)
	}
	if cfg.Controller.Threshold != 25 {
		t.Errorf("Default Controller.Threshold = %v, want 25", cfg.Controller.Threshold)
	}
	if cfg.AutosaveInterval() != 30*time.Second {
		t.Errorf("Default AutosaveInterval() = %v, want 30s", cfg.AutosaveInterval())
	}
}

// TestLoad_ExampleConfig keeps configs/homebus.yaml loadable and in step
// with the built-in defaults.
func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "homebus.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.MQTT.Broker != def.MQTT.Broker || cfg.Topics != def.Topics {
		t.Errorf("mqtt/topics = %+v %+v, want defaults", cfg.MQTT.Broker, cfg.Topics)
	}
	if cfg.Registry != def.Registry || cfg.Controller != def.Controller || cfg.Readings != def.Readings {
		t.Errorf("registry/controller/readings differ from defaults")
	}
	if cfg.Audit != def.Audit || cfg.Database != def.Database {
		t.Errorf("audit/database = %+v %+v, want defaults", cfg.Audit, cfg.Database)
	}
	if cfg.API != def.API {
		t.Errorf("API = %+v, want %+v", cfg.API, def.API)
	}
	if cfg.Simulator != def.Simulator {
		t.Errorf("Simulator = %+v, want %+v", cfg.Simulator, def.Simulator)
	}
}
