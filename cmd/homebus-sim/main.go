// homebus-sim - simulated devices for the homebus controller
//
// Each invocation plays one device on the bus:
//
//	homebus-sim sensor 1 --min 20 --max 30 --increment 1 --interval 1s
//	homebus-sim switch 2 --probability 0.3
//	homebus-sim watch 3 --time 09:00:00 --increment 60 --rate 1s
//
// State is kept in the simulator data directory and restored on restart.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/logging"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
	"github.com/nerrad567/homebus/internal/simulator"
)

var version = "dev"

const serviceName = "homebus-sim"

// globalOptions are the flags shared by every device kind.
type globalOptions struct {
	configPath string
	host       string
	port       int
	dataDir    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:           "homebus-sim",
		Short:         "Simulated homebus devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", os.Getenv("HOMEBUS_CONFIG"), "configuration file (YAML)")
	flags.StringVar(&g.host, "host", "", "MQTT broker host (overrides config)")
	flags.IntVarP(&g.port, "port", "p", 0, "MQTT broker port (overrides config)")
	flags.StringVar(&g.dataDir, "data-dir", "", "state file directory (overrides config)")

	root.AddCommand(sensorCmd(g), switchCmd(g), watchCmd(g))
	return root
}

func sensorCmd(g *globalOptions) *cobra.Command {
	var (
		minValue, maxValue, increment float64
		interval                      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sensor <id>",
		Short: "Simulate a temperature sensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(cmd, g, device.KindSensor, args[0], func(c *simulator.Config) {
				f := cmd.Flags()
				if f.Changed("min") {
					c.Min = minValue
				}
				if f.Changed("max") {
					c.Max = maxValue
				}
				if f.Changed("increment") {
					c.Increment = increment
				}
				if f.Changed("interval") {
					c.Interval = interval
				}
			})
		},
	}

	cmd.Flags().Float64VarP(&minValue, "min", "m", 20, "lowest value")
	cmd.Flags().Float64VarP(&maxValue, "max", "M", 30, "highest value before wrapping to min")
	cmd.Flags().Float64Var(&increment, "increment", 1, "step between published values")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between publications")
	return cmd
}

func switchCmd(g *globalOptions) *cobra.Command {
	var probability float64

	cmd := &cobra.Command{
		Use:   "switch <id>",
		Short: "Simulate a switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(cmd, g, device.KindSwitch, args[0], func(c *simulator.Config) {
				if cmd.Flags().Changed("probability") {
					c.FailureProbability = probability
				}
			})
		},
	}

	cmd.Flags().Float64VarP(&probability, "probability", "P", 0.3, "chance that a TOGGLE gets no reply")
	return cmd
}

func watchCmd(g *globalOptions) *cobra.Command {
	var (
		start     string
		increment int
		rate      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Simulate a clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(cmd, g, device.KindWatch, args[0], func(c *simulator.Config) {
				f := cmd.Flags()
				if f.Changed("time") {
					c.Start = start
				}
				if f.Changed("increment") {
					c.Step = time.Duration(increment) * time.Second
				}
				if f.Changed("rate") {
					c.Rate = rate
				}
			})
		},
	}

	cmd.Flags().StringVar(&start, "time", "", "start time HH:MM:SS (default now)")
	cmd.Flags().IntVar(&increment, "increment", 1, "seconds the clock advances per tick")
	cmd.Flags().DurationVar(&rate, "rate", time.Second, "time between ticks")
	return cmd
}

// runDevice loads the configuration, applies the flags and runs one
// simulator until the command context ends.
func runDevice(cmd *cobra.Command, g *globalOptions, kind device.Kind, id string, override func(*simulator.Config)) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if g.host != "" {
		cfg.MQTT.Broker.Host = g.host
	}
	if g.port > 0 {
		cfg.MQTT.Broker.Port = g.port
	}
	if g.dataDir != "" {
		cfg.Simulator.DataDir = g.dataDir
	}
	cfg.MQTT.Broker.ClientID = clientID(kind, id)

	simCfg := simulator.ConfigFromSettings(kind, id, cfg)
	override(&simCfg)

	log := logging.New(cfg.Logging, serviceName, version).With("kind", kind, "id", id)
	return run(cmd.Context(), cfg, simCfg, log)
}

// clientID returns a broker-unique client id for one simulated device.
func clientID(kind device.Kind, id string) string {
	return fmt.Sprintf("%s-%s-%s-%s", serviceName, kind, id, uuid.NewString()[:8])
}

// run connects to the bus and plays the device until ctx ends.
func run(ctx context.Context, cfg *config.Config, simCfg simulator.Config, log *logging.Logger) error {
	bus, err := mqtt.Connect(cfg.MQTT, simCfg.Topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetLogger(log)

	sim, err := simulator.New(simCfg, bus, log)
	if err != nil {
		return err
	}
	sim.LoadState()

	log.Info("simulator started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic", sim.Topic(),
	)

	if err := sim.Run(ctx); err != nil {
		return err
	}
	log.Info("simulator stopped", "state", sim.Value())
	return nil
}
