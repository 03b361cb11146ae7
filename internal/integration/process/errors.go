package process

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the process package.
var (
	// ErrAlreadyRunning is returned when spawning while a live process exists.
	ErrAlreadyRunning = errors.New("engine process already running")

	// ErrNotRunning is returned when writing to a process that has exited.
	ErrNotRunning = errors.New("engine process not running")

	// ErrAlreadyAttached is returned when a second consumer attaches.
	ErrAlreadyAttached = errors.New("supervisor already attached")

	// ErrSupervisorShutdown is returned after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shut down")
)

// SpawnError reports that the engine executable could not be started.
type SpawnError struct {
	Path string
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	cmdline := e.Path
	if len(e.Args) > 0 {
		cmdline += " " + strings.Join(e.Args, " ")
	}
	return fmt.Sprintf("spawn %q: %v", cmdline, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
