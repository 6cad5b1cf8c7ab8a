// homebus - home automation controller
//
// This is the entry point for the homebus controller. It connects to the MQTT
// bus, keeps the device registry, relays console commands to devices as
// topic-addressed requests and waits for their replies.
//
// Usage:
//
//	homebus --config configs/homebus.yaml
//	homebus --host localhost --port 1883
//	homebus --embedded-broker --api
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/homebus/migrations"

	"github.com/nerrad567/homebus/internal/api"
	"github.com/nerrad567/homebus/internal/audit"
	"github.com/nerrad567/homebus/internal/console"
	"github.com/nerrad567/homebus/internal/controller"
	"github.com/nerrad567/homebus/internal/correlator"
	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/broker"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/database"
	"github.com/nerrad567/homebus/internal/infrastructure/influxdb"
	"github.com/nerrad567/homebus/internal/infrastructure/logging"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
	"github.com/nerrad567/homebus/internal/readings"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// serviceName tags every log line.
const serviceName = "homebus"

// options holds the command-line flags.
type options struct {
	configPath     string
	host           string
	port           int
	embeddedBroker bool
	api            bool
	console        bool

	// stdin and stdout feed the console; swapped in tests.
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{stdin: os.Stdin, stdout: os.Stdout}

	cmd := &cobra.Command{
		Use:           "homebus",
		Short:         "Home automation controller over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("HOMEBUS_CONFIG"), "configuration file (YAML)")
	flags.StringVar(&opts.host, "host", "", "MQTT broker host (overrides config)")
	flags.IntVarP(&opts.port, "port", "p", 0, "MQTT broker port (overrides config)")
	flags.BoolVar(&opts.embeddedBroker, "embedded-broker", false, "start an in-process MQTT broker")
	flags.BoolVar(&opts.api, "api", false, "serve the HTTP API")
	flags.BoolVar(&opts.console, "console", true, "read commands from stdin")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "homebus %s (%s, %s)\n", version, commit, date)
		},
	})

	return cmd
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown. Only startup failures are errors.
func run(ctx context.Context, opts *options) error {
	// Use default logger until config is loaded
	log := logging.Default(serviceName)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg, opts)

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("starting homebus", "version", version, "commit", commit, "build_date", date)

	// Start the embedded broker first so the client can reach it
	if cfg.MQTT.Embedded.Enabled {
		b, err := broker.Start(cfg.MQTT.Embedded, log.With("component", "broker").Logger)
		if err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()

		host, port, err := b.HostPort()
		if err != nil {
			return fmt.Errorf("embedded broker address: %w", err)
		}
		cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port = host, port
		log.Info("embedded broker listening", "address", b.Addr())
	}

	// SQLite (registry backend and/or audit log)
	db, closeDB, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	// Device registry
	registry := device.NewRegistry(registryStore(cfg, db, log), device.DefaultSnapshot(cfg.Registry.SeedLastID))
	registry.SetLogger(log.With("component", "registry"))
	registry.Load(ctx)

	// Last-reading cache; created before the bus so it closes after the bus
	// stops delivering readings
	cache, err := readings.NewCache(cfg.Readings)
	if err != nil {
		return err
	}
	defer cache.Close()

	// InfluxDB (optional); like the cache it outlives the bus
	influxClient, err := influxdb.Connect(cfg.InfluxDB, func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influxClient = nil
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Connect to MQTT broker
	topics := mqtt.TopicsFromConfig(cfg.Topics)
	bus, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetLogger(log.With("component", "mqtt"))
	bus.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	bus.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"namespace", topics.Prefix(),
	)

	// Orchestrator
	corr := correlator.New()
	ctrl := controller.New(registry, bus, corr, controller.OptionsFromConfig(cfg), log.With("component", "controller"))
	ctrl.SetReadings(cache)
	if influxClient != nil {
		ctrl.SetTelemetry(influxClient)
	}
	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		auditRepo = audit.NewSQLiteRepository(db)
		ctrl.SetAudit(auditRepo)
		log.Info("audit log enabled")
	}

	// HTTP API (optional); built before Start so its event hub sees every message
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Controller: ctrl,
			Audit:      auditRepo,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		ctrl.SetEvents(apiServer.Hub())
	}

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}

	// Periodic registry saves; the final flush happens when autosaveCtx ends
	autosaveCtx, stopAutosave := context.WithCancel(ctx)
	autosaveDone := make(chan struct{})
	go func() {
		defer close(autosaveDone)
		registry.RunAutosave(autosaveCtx, cfg.AutosaveInterval())
	}()

	if err := healthCheck(ctx, bus, influxClient); err != nil {
		stopAutosave()
		<-autosaveDone
		return fmt.Errorf("health check failed: %w", err)
	}
	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			stopAutosave()
			<-autosaveDone
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete", "devices", registry.Count())

	if opts.console {
		session := console.NewSession(ctrl, log.With("component", "console"))
		go func() {
			if err := session.Run(ctx, opts.stdin, opts.stdout); err != nil {
				log.Warn("console stopped", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Order matters: release waiters, flush the registry, then let the
	// deferred calls close the bus and the stores.
	corr.Close()
	stopAutosave()
	<-autosaveDone

	log.Info("homebus stopped")
	return nil
}

// applyFlags overrides configuration with command-line flags.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.host != "" {
		cfg.MQTT.Broker.Host = opts.host
	}
	if opts.port > 0 {
		cfg.MQTT.Broker.Port = opts.port
	}
	if opts.embeddedBroker {
		cfg.MQTT.Embedded.Enabled = true
	}
	if opts.api {
		cfg.API.Enabled = true
	}
}

// openDatabase opens and migrates SQLite when the registry or the audit log
// needs it. It returns a nil DB when neither does.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, func(), error) {
	if cfg.Registry.Backend != config.RegistryBackendSQLite && !cfg.Audit.Enabled {
		return nil, func() {}, nil
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	if err := db.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database connected", "path", db.Path())

	return db, closeDB, nil
}

// registryStore picks the configured registry backend.
func registryStore(cfg *config.Config, db *database.DB, log *logging.Logger) device.Store {
	if cfg.Registry.Backend == config.RegistryBackendSQLite {
		return device.NewSQLiteStore(db)
	}
	log.Info("device registry file", "path", cfg.Registry.Path)
	return device.NewFileStore(cfg.Registry.Path)
}

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

// healthCheck verifies the bus and the optional InfluxDB connection.
func healthCheck(ctx context.Context, bus *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
