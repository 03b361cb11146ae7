package integration

import "errors"

// Sentinel errors for the integration package.
var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("integration manager is closed")

	// ErrInvalidConfiguration is returned for configuration the manager cannot use.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRestartsExhausted is recorded when the engine keeps failing after
	// MaxRestarts attempts.
	ErrRestartsExhausted = errors.New("engine restart attempts exhausted")
)
