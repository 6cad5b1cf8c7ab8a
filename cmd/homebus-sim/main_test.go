package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/broker"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/logging"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
	"github.com/nerrad567/homebus/internal/simulator"
)

func TestClientID(t *testing.T) {
	a := clientID(device.KindSwitch, "2")
	b := clientID(device.KindSwitch, "2")

	if !strings.HasPrefix(a, "homebus-sim-switch-2-") {
		t.Errorf("clientID() = %q, want homebus-sim-switch-2- prefix", a)
	}
	if a == b {
		t.Errorf("clientID() returned %q twice, want unique ids", a)
	}
}

func TestRootCmd_Args(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing id", args: []string{"sensor"}},
		{name: "extra args", args: []string{"switch", "2", "3"}},
		{name: "unknown kind", args: []string{"toaster", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)

			if err := cmd.Execute(); err == nil {
				t.Errorf("Execute(%v) error = nil", tt.args)
			}
		})
	}
}

func TestRootCmd_NoKindPrintsHelp(t *testing.T) {
	cmd := newRootCmd()
	var out strings.Builder
	cmd.SetArgs([]string{})
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "sensor") {
		t.Errorf("help output = %q, want the device kinds", out.String())
	}
}

func TestRunDevice_InvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"sensor", "1", "--config", "/nonexistent/path/config.yaml"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("Execute() error = %v, want a config error", err)
	}
}

func TestRun_InvalidSimulator(t *testing.T) {
	_, cfg := startBroker(t)

	simCfg := simulator.ConfigFromSettings(device.KindSensor, "1", cfg)
	simCfg.Min, simCfg.Max = 30, 20

	err := run(context.Background(), cfg, simCfg, logging.Default(serviceName))
	if !errors.Is(err, simulator.ErrInvalidConfig) {
		t.Errorf("run() error = %v, want invalid simulator config", err)
	}
}

// TestRun_SwitchAnswersOnBus runs a switch simulator against an embedded
// broker and reads it from a second client.
func TestRun_SwitchAnswersOnBus(t *testing.T) {
	_, cfg := startBroker(t)
	cfg.Simulator.DataDir = t.TempDir()
	cfg.MQTT.Broker.ClientID = clientID(device.KindSwitch, "2")

	simCfg := simulator.ConfigFromSettings(device.KindSwitch, "2", cfg)
	simCfg.FailureProbability = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, simCfg, logging.Default(serviceName))
	}()

	listenerCfg := cfg.MQTT
	listenerCfg.Broker.ClientID = "homebus-sim-test-listener"
	listener, err := mqtt.Connect(listenerCfg, simCfg.Topics)
	if err != nil {
		t.Fatalf("listener Connect() error = %v", err)
	}
	defer listener.Close()

	replies := make(chan string, 10)
	topic := simCfg.Topics.Device(string(device.KindSwitch), "2")
	if err := listener.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if device.IsReply(payload) {
			replies <- string(payload)
		}
		return nil
	}); err != nil {
		t.Fatalf("listener Subscribe() error = %v", err)
	}

	// The simulator subscribes asynchronously; repeat the request until it answers.
	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for got := ""; got == ""; {
		if err := listener.Publish(topic, []byte(device.RequestRead), 1, false); err != nil {
			t.Fatalf("listener Publish() error = %v", err)
		}
		select {
		case got = <-replies:
			if got != device.StateOff {
				t.Errorf("GET reply = %q, want OFF", got)
			}
		case <-ticker.C:
		case <-deadline:
			t.Fatal("switch simulator never answered")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// startBroker runs an embedded broker for the test and returns a config
// pointing at it.
func startBroker(t *testing.T) (*broker.Broker, *config.Config) {
	t.Helper()

	b, err := broker.Start(config.EmbeddedBrokerConfig{Enabled: true, Address: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("broker.Start() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })

	host, port, err := b.HostPort()
	if err != nil {
		t.Fatalf("HostPort() error = %v", err)
	}

	cfg := config.Default()
	cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port = host, port
	cfg.Logging.Level = "error"
	return b, cfg
}
