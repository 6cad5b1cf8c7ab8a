package controller

import (
	"errors"
	"fmt"
)

// Domain errors for the controller package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, controller.ErrUnknownDevice) {
//	    // no such device, or not of the requested kind
//	}
var (
	// ErrUnknownDevice is returned when a command names an id that is not registered.
	ErrUnknownDevice = errors.New("controller: unknown device")

	// ErrKindMismatch is returned when the id exists under a different kind.
	// It wraps ErrUnknownDevice.
	ErrKindMismatch = fmt.Errorf("%w: kind mismatch", ErrUnknownDevice)

	// ErrTransport is returned when a request could not be published.
	ErrTransport = errors.New("controller: transport error")

	// ErrInvalidRequest is returned for a request verb the devices do not understand.
	ErrInvalidRequest = errors.New("controller: invalid request")
)
