package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidKind) {
//	    // reject the command
//	}
var (
	// ErrInvalidKind is returned when a kind is not sensor, switch or watch.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNoSnapshot is returned by a Store that has nothing persisted yet.
	ErrNoSnapshot = errors.New("device: no snapshot")
)
