// Package broker runs an in-process MQTT broker for development and tests.
//
// The broker is mochi-mqtt with every client allowed, listening on a single
// TCP address. The controller starts it when mqtt.embedded.enabled is set,
// so one binary is enough to drive the device simulators locally.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/homebus/internal/infrastructure/config"
)

// listenerID names the single TCP listener.
const listenerID = "tcp"

// ErrNoAddress is returned by Start when no listen address is configured.
var ErrNoAddress = errors.New("broker: listen address is required")

// Broker is a running embedded MQTT broker.
type Broker struct {
	server *mochi.Server
	tcp    *listeners.TCP
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Start creates the broker, binds its listener and begins serving.
//
// The address may use port 0; Addr reports the bound address afterwards.
// A nil logger discards the broker's own log output.
func Start(cfg config.EmbeddedBrokerConfig, logger *slog.Logger) (*Broker, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      listenerID,
		Address: cfg.Address,
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("adding listener on %s: %w", cfg.Address, err)
	}

	if err := server.Serve(); err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("serving: %w", err)
	}

	logger.Info("embedded MQTT broker listening", "address", tcp.Address())

	return &Broker{server: server, tcp: tcp, logger: logger}, nil
}

// Addr returns the bound listen address, e.g. "127.0.0.1:41883".
func (b *Broker) Addr() string {
	return b.tcp.Address()
}

// HostPort splits Addr into the host and port a client connects to.
func (b *Broker) HostPort() (string, int, error) {
	host, portStr, err := net.SplitHostPort(b.Addr())
	if err != nil {
		return "", 0, fmt.Errorf("parsing broker address %q: %w", b.Addr(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing broker port %q: %w", portStr, err)
	}
	return host, port, nil
}

// ClientCount returns the number of clients known to the broker.
func (b *Broker) ClientCount() int {
	return len(b.server.Clients.GetAll())
}

// Publish injects a message through the broker's inline client, as if a
// device had published it.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	if err := b.server.Publish(topic, payload, retain, qos); err != nil {
		return fmt.Errorf("broker publish to %s: %w", topic, err)
	}
	return nil
}

// Close stops the listener and disconnects every client.
// Calling Close more than once is safe.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("shutting down embedded MQTT broker")
		b.closeErr = b.server.Close()
	})
	return b.closeErr
}
