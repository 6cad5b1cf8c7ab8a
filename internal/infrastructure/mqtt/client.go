package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/homebus/internal/infrastructure/config"
)

// MessageHandler receives one message from a subscribed pattern.
//
// paho runs each delivery on its own goroutine, so a handler may publish
// and wait for the acknowledgement. payload belongs to the transport; copy
// it to keep it past the call. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is one participant on the homebus: the controller or a simulator.
//
// It announces itself with a retained Presence on the status topic, keeps
// its subscriptions across reconnects, and recovers handler panics.
// All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu        sync.RWMutex
	online    bool
	routes    map[string]route
	onConnect func()
	onLost    func(error)
	logger    Logger
}

// Connect dials the broker and waits up to 10s for the session.
//
// On every (re)connect the client publishes an online Presence and replays
// its routes. A failed dial returns ErrConnectionFailed and leaves no
// background retry running.
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: topics,
		routes: make(map[string]route),
	}

	opts := newOptions(cfg, topics).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log().Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		})

	c.paho = pahomqtt.NewClient(opts)
	if err := waitAck(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		c.paho.Disconnect(0)
		return nil, err
	}

	// The connect handler runs asynchronously; callers may publish right away.
	c.setOnline(true)
	return c, nil
}

func (c *Client) connected() {
	c.setOnline(true)
	c.replayRoutes()
	c.paho.Publish(c.topics.Status(), byte(c.cfg.QoS), true, newPresence(PresenceOnline, c.cfg.Broker.ClientID, ""))

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) lost(err error) {
	c.setOnline(false)

	c.mu.RLock()
	callback := c.onLost
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// Close publishes an offline Presence, lets in-flight messages drain for
// up to a second and disconnects. Closing a client that never connected is
// a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
			newPresence(PresenceOffline, c.cfg.Broker.ClientID, reasonShutdown))
		if err := waitAck(token, ackTimeout, ErrPublishFailed); err != nil {
			c.log().Warn("offline presence not published", "error", err)
		}
	}

	c.paho.Disconnect(quiesceMillis)
	c.setOnline(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a callback for every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for an unexpected connection loss.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onLost = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// Topics returns the namespace the client was connected with.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// deliver adapts handler to paho, logging its error and recovering a panic
// so one bad message cannot take the delivery goroutine down.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
