package console

import "errors"

// Parse errors, checked with errors.Is().
var (
	// ErrNotCommand is returned for lines that do not start with "!".
	ErrNotCommand = errors.New("not a command")

	// ErrUnknownCommand is returned for an unrecognised command name.
	ErrUnknownCommand = errors.New("unknown command, try !help")

	// ErrUsage is returned when a command has the wrong arguments.
	ErrUsage = errors.New("usage")
)
