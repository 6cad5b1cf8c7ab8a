// Package simulator provides stand-in devices for development and tests.
//
// A Simulator is tagged by kind:
//
//   - sensor: publishes a temperature that walks from min to max by
//     increment and wraps; answers GET with the current value.
//   - switch: answers TOGGLE by flipping and replying ON or OFF, except
//     that with the configured probability it drops the request; answers
//     GET with the current state.
//   - watch: publishes HH:MM:SS, advancing by a fixed step per tick;
//     answers GET with the current time.
//
// Requests and replies share the device topic, so a simulator ignores every
// payload that is not a request verb, its own replies included.
//
// State survives restarts in one JSON file per kind (sensors.json,
// switches.json, clocks.json), keyed by device topic.
package simulator
