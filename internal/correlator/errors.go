package correlator

import "errors"

// Errors returned by Wait and Register. Check them with errors.Is.
var (
	// ErrTimedOut is returned when no reply arrived within the timeout.
	ErrTimedOut = errors.New("correlator: timed out waiting for reply")

	// ErrAlreadyAwaiting is returned when a topic already has a waiter.
	ErrAlreadyAwaiting = errors.New("correlator: already awaiting a reply on topic")

	// ErrClosed is returned once the correlator has been closed.
	ErrClosed = errors.New("correlator: closed")
)
