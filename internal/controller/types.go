package controller

import (
	"time"

	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
)

// State is the stage a command reached.
type State string

// Command states, in order. A command ends in Completed, TimedOut or Failed.
const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StateDispatched    State = "dispatched"
	StateAwaitingReply State = "awaiting_reply"
	StateCompleted     State = "completed"
	StateTimedOut      State = "timed_out"
	StateFailed        State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

// Result is the outcome of one request to one device.
type Result struct {
	DeviceID string
	Kind     device.Kind
	Verb     string
	State    State

	// Reply is the device's answer when State is StateCompleted.
	Reply string

	// Err is set when State is StateTimedOut or StateFailed.
	Err error

	// Latency is the time from dispatch to the final state.
	Latency time.Duration
}

// Options holds the tunables of a Controller.
type Options struct {
	Topics mqtt.Topics
	QoS    byte

	// ReplyTimeout bounds every correlated wait.
	ReplyTimeout time.Duration

	// Threshold is the sensor value above which TriggerAction goes to every switch.
	Threshold float64

	// TriggerAction is the verb published to switches on a threshold crossing.
	TriggerAction string
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Topics:        mqtt.TopicsFromConfig(cfg.Topics),
		QoS:           byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0-2
		ReplyTimeout:  cfg.ReplyTimeout(),
		Threshold:     cfg.Controller.Threshold,
		TriggerAction: cfg.Controller.TriggerAction,
	}
}
