package simulator

import "errors"

var (
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("simulator: invalid config")

	// ErrCorruptState is returned when a state file is not valid JSON.
	ErrCorruptState = errors.New("simulator: corrupt state file")
)
