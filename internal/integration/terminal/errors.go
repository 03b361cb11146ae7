package terminal

import "errors"

// Sentinel errors for the terminal package.
var (
	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("terminal already open")

	// ErrTerminalClosed is returned when opening a terminal that was closed.
	ErrTerminalClosed = errors.New("terminal is closed")

	// ErrInvalidSize is returned for non-positive dimensions.
	ErrInvalidSize = errors.New("invalid terminal size")
)
