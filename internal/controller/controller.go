package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homebus/internal/audit"
	"github.com/nerrad567/homebus/internal/correlator"
	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
	"github.com/nerrad567/homebus/internal/readings"
)

// Bus is the part of the MQTT client the controller needs.
type Bus interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers handler for messages matching topic.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Telemetry receives readings and command outcomes for export.
type Telemetry interface {
	WriteReading(deviceID, kind string, value float64, at time.Time)
	WriteCommand(deviceID, kind, verb, state string, latency time.Duration)
}

// AuditLog stores the command history.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Events receives live notifications, one channel per event type.
type Events interface {
	Broadcast(channel string, payload any)
}

// Event channels.
const (
	EventReading       = "device.reading"
	EventCommand       = "command.result"
	EventDeviceAdded   = "device.added"
	EventDeviceRemoved = "device.removed"
	EventTrigger       = "sensor.trigger"
)

// EventChannels lists every channel the controller emits on.
func EventChannels() []string {
	return []string{EventReading, EventCommand, EventDeviceAdded, EventDeviceRemoved, EventTrigger}
}

// auditTimeout bounds one audit write. Writes are detached from the
// caller's context so a cancelled request is still recorded.
const auditTimeout = 2 * time.Second

// auditSource tags entries written by the controller.
const auditSource = "controller"

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Controller relays commands to devices and correlates their replies.
//
// Thread Safety: all methods are safe for concurrent use. HandleMessage is
// called from the transport's delivery goroutines.
type Controller struct {
	registry   *device.Registry
	bus        Bus
	correlator *correlator.Correlator
	opts       Options
	logger     Logger

	readings  *readings.Cache // Optional
	telemetry Telemetry       // Optional
	audit     AuditLog        // Optional
	events    Events          // Optional
	now       func() time.Time
}

// New creates a controller.
//
// Parameters:
//   - registry: Device registry, the source of truth for known devices
//   - bus: Transport used to publish requests and subscribe to device topics
//   - corr: Correlator shared with nothing else; the controller feeds it
//   - opts: Topic namespace, timeouts and the threshold rule
//   - logger: Logger instance (may be nil)
func New(registry *device.Registry, bus Bus, corr *correlator.Correlator, opts Options, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.TriggerAction == "" {
		opts.TriggerAction = device.RequestToggle
	}
	return &Controller{
		registry:   registry,
		bus:        bus,
		correlator: corr,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// SetReadings attaches the last-reading cache.
func (c *Controller) SetReadings(cache *readings.Cache) {
	c.readings = cache
}

// SetTelemetry attaches an exporter for readings and command outcomes.
func (c *Controller) SetTelemetry(t Telemetry) {
	c.telemetry = t
}

// SetAudit attaches the command history store.
func (c *Controller) SetAudit(a AuditLog) {
	c.audit = a
}

// SetEvents attaches a live event sink.
func (c *Controller) SetEvents(e Events) {
	c.events = e
}

func (c *Controller) emit(channel string, payload map[string]any) {
	if c.events != nil {
		c.events.Broadcast(channel, payload)
	}
}

// record writes an audit entry if a store is attached. Failures are logged.
func (c *Controller) record(e audit.Entry) {
	if c.audit == nil {
		return
	}
	e.Source = auditSource
	e.CreatedAt = c.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := c.audit.Create(ctx, &e); err != nil {
		c.logger.Warn("writing audit entry failed", "action", e.Action, "device_id", e.DeviceID, "error", err)
	}
}

// Start subscribes HandleMessage to every device topic.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pattern := c.opts.Topics.AllDevices()
	if err := c.bus.Subscribe(pattern, c.opts.QoS, c.HandleMessage); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %w", ErrTransport, pattern, err)
	}

	c.logger.Info("controller listening", "topic", pattern)
	return nil
}

// ListDevices returns every registered device ordered by id.
func (c *Controller) ListDevices() []device.Device {
	return c.registry.List()
}

// AddDevice registers a device. A new switch is announced on the
// announcement topic as "switch_<id>"; a failed announcement is logged and
// the device stays registered.
func (c *Controller) AddDevice(ctx context.Context, kind string) (device.Device, error) {
	dev, isSwitch, err := c.registry.Add(ctx, kind)
	if err != nil {
		return device.Device{}, err
	}

	if isSwitch {
		name := string(dev.Kind) + "_" + dev.ID
		if err := c.bus.Publish(c.opts.Topics.Announce(), []byte(name), c.opts.QoS, false); err != nil {
			c.logger.Warn("announcing new switch failed", "device_id", dev.ID, "error", err)
		}
	}

	c.record(audit.Entry{Action: audit.ActionDeviceAdded, DeviceID: dev.ID, Kind: string(dev.Kind)})
	c.emit(EventDeviceAdded, map[string]any{"device_id": dev.ID, "kind": string(dev.Kind)})
	return dev, nil
}

// RemoveDevice unregisters a device and drops its cached reading.
// Removing an id that is not registered returns ErrUnknownDevice.
func (c *Controller) RemoveDevice(ctx context.Context, id string) error {
	if !c.registry.Remove(ctx, id) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if c.readings != nil {
		c.readings.Forget(id)
	}
	c.record(audit.Entry{Action: audit.ActionDeviceRemoved, DeviceID: id})
	c.emit(EventDeviceRemoved, map[string]any{"device_id": id})
	return nil
}

// QueryDevice sends the kind's default request (TOGGLE for switches, GET
// otherwise) and waits for the reply.
func (c *Controller) QueryDevice(ctx context.Context, kind device.Kind, id string) (Result, error) {
	return c.Request(ctx, kind, id, device.DefaultRequest(kind))
}

// Request publishes verb to the device and waits for its reply.
//
// The reply slot is armed before publishing, so an immediate reply is never
// lost. The echo of our own request on the shared topic is not a reply.
//
// Returns the Result in every case, and an error when the final state is
// not StateCompleted:
//   - ErrInvalidRequest for an unknown verb
//   - ErrUnknownDevice or ErrKindMismatch when validation fails
//   - correlator.ErrAlreadyAwaiting when a request to the device is in flight
//   - ErrTransport when publishing fails
//   - correlator.ErrTimedOut when no reply arrives in time
func (c *Controller) Request(ctx context.Context, kind device.Kind, id, verb string) (Result, error) {
	res := Result{DeviceID: id, Kind: kind, Verb: verb, State: StateReceived}

	if err := c.validate(kind, id, verb); err != nil {
		return c.finish(res, StateFailed, err, time.Time{})
	}
	res.State = StateValidated

	topic := c.opts.Topics.Request(string(kind), id)
	waiter, err := c.correlator.Register(topic, correlator.WithFilter(device.IsReply))
	if err != nil {
		return c.finish(res, StateFailed, err, time.Time{})
	}

	started := c.now()
	if err := c.bus.Publish(topic, []byte(verb), c.opts.QoS, false); err != nil {
		waiter.Cancel()
		return c.finish(res, StateFailed, fmt.Errorf("%w: %w", ErrTransport, err), started)
	}
	res.State = StateDispatched
	c.logger.Debug("request dispatched", "device_id", id, "kind", kind, "verb", verb, "topic", topic)

	res.State = StateAwaitingReply
	reply, err := waiter.Wait(ctx, c.opts.ReplyTimeout)
	if err != nil {
		state := StateFailed
		if errors.Is(err, correlator.ErrTimedOut) {
			state = StateTimedOut
		}
		return c.finish(res, state, err, started)
	}

	res.Reply = string(reply.Payload)
	return c.finish(res, StateCompleted, nil, started)
}

// validate checks the verb and that id is registered under kind.
func (c *Controller) validate(kind device.Kind, id, verb string) error {
	if !device.ValidRequest(verb) {
		return fmt.Errorf("%w: %q", ErrInvalidRequest, verb)
	}

	dev, err := c.registry.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if dev.Kind != kind {
		return fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, id, dev.Kind, kind)
	}
	return nil
}

// finish records the final state of a request, logs and exports it.
func (c *Controller) finish(res Result, state State, err error, started time.Time) (Result, error) {
	res.State = state
	res.Err = err
	if !started.IsZero() {
		res.Latency = c.now().Sub(started)
	}

	attrs := []any{
		"device_id", res.DeviceID,
		"kind", res.Kind,
		"verb", res.Verb,
		"state", res.State,
		"latency_ms", res.Latency.Milliseconds(),
	}
	switch state {
	case StateCompleted:
		c.logger.Info("request completed", append(attrs, "reply", res.Reply)...)
	case StateTimedOut:
		c.logger.Warn("request timed out", attrs...)
	default:
		c.logger.Warn("request failed", append(attrs, "error", err)...)
	}

	if c.telemetry != nil && !started.IsZero() {
		c.telemetry.WriteCommand(res.DeviceID, string(res.Kind), res.Verb, string(res.State), res.Latency)
	}

	details := map[string]any{
		"verb":       res.Verb,
		"state":      string(res.State),
		"latency_ms": res.Latency.Milliseconds(),
	}
	if state == StateCompleted {
		details["reply"] = res.Reply
	}
	if err != nil {
		details["error"] = err.Error()
	}
	c.record(audit.Entry{Action: audit.ActionRequest, DeviceID: res.DeviceID, Kind: string(res.Kind), Details: details})
	event := map[string]any{"device_id": res.DeviceID, "kind": string(res.Kind)}
	for k, v := range details {
		event[k] = v
	}
	c.emit(EventCommand, event)

	return res, err
}

// BroadcastToKind sends verb to every device of kind concurrently.
//
// Each device gets its own timeout and its own Result, in id order. A
// failure for one device does not affect the others.
func (c *Controller) BroadcastToKind(ctx context.Context, kind device.Kind, verb string) []Result {
	devices := c.registry.ListByKind(kind)
	results := make([]Result, len(devices))

	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(idx int, d device.Device) {
			defer wg.Done()
			results[idx], _ = c.Request(ctx, d.Kind, d.ID, verb) //nolint:errcheck // Carried in Result.Err
		}(i, dev)
	}
	wg.Wait()

	return results
}

// OnSensorReading applies the threshold rule to a sensor payload.
//
// A numeric value above the threshold publishes the trigger action to every
// switch without waiting for replies. Non-numeric payloads are ignored. It
// returns the number of requests published.
func (c *Controller) OnSensorReading(ctx context.Context, id string, payload []byte) int {
	value, ok := readings.ParseValue(payload)
	if !ok {
		c.logger.Debug("ignoring non-numeric sensor payload", "device_id", id, "payload", string(payload))
		return 0
	}
	if value <= c.opts.Threshold {
		return 0
	}

	switches := c.registry.ListByKind(device.KindSwitch)
	c.logger.Info("sensor threshold exceeded",
		"device_id", id,
		"value", value,
		"threshold", c.opts.Threshold,
		"switches", len(switches),
	)

	published := 0
	for _, sw := range switches {
		if ctx.Err() != nil {
			break
		}
		topic := c.opts.Topics.Request(string(sw.Kind), sw.ID)
		if err := c.bus.Publish(topic, []byte(c.opts.TriggerAction), c.opts.QoS, false); err != nil {
			c.logger.Warn("threshold action publish failed", "device_id", sw.ID, "error", err)
			continue
		}
		published++
	}

	details := map[string]any{
		"value":     value,
		"threshold": c.opts.Threshold,
		"action":    c.opts.TriggerAction,
		"published": published,
	}
	c.record(audit.Entry{Action: audit.ActionTrigger, DeviceID: id, Kind: string(device.KindSensor), Details: details})
	c.emit(EventTrigger, map[string]any{
		"device_id": id,
		"value":     value,
		"threshold": c.opts.Threshold,
		"action":    c.opts.TriggerAction,
		"published": published,
	})
	return published
}

// HandleMessage is the bus callback for every device topic.
//
// The message is first offered to the correlator. Request verbs stop there;
// anything else from a registered device is recorded as its latest reading,
// and sensor readings go through OnSensorReading. Topics outside the device
// namespace and unregistered devices are ignored.
func (c *Controller) HandleMessage(topic string, payload []byte) error {
	kindName, id, ok := c.opts.Topics.ParseDevice(topic)
	if !ok {
		return nil
	}

	if c.correlator.Deliver(topic, payload) {
		c.logger.Debug("reply delivered", "topic", topic)
	}

	if device.IsRequest(payload) {
		return nil
	}

	dev, err := c.registry.Get(id)
	if err != nil || string(dev.Kind) != kindName {
		c.logger.Debug("message from unregistered device", "topic", topic)
		return nil
	}

	reading := readings.New(dev.ID, dev.Kind, payload, c.now())
	if c.readings != nil {
		c.readings.Record(reading)
	}
	if c.telemetry != nil && reading.Numeric {
		c.telemetry.WriteReading(dev.ID, string(dev.Kind), reading.Value, reading.ReceivedAt)
	}

	event := map[string]any{
		"device_id":   dev.ID,
		"kind":        string(dev.Kind),
		"payload":     reading.Payload,
		"received_at": reading.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if reading.Numeric {
		event["value"] = reading.Value
	}
	c.emit(EventReading, event)

	if dev.Kind == device.KindSensor {
		c.OnSensorReading(context.Background(), dev.ID, payload)
	}
	return nil
}

// LastReading returns the latest payload recorded for a device.
func (c *Controller) LastReading(id string) (readings.Reading, bool) {
	if c.readings == nil {
		return readings.Reading{}, false
	}
	return c.readings.Last(id)
}
