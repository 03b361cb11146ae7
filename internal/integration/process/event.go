package process

import (
	"fmt"
	"strconv"
)

// State is the lifecycle state of one process generation.
type State int

const (
	// StateNotStarted means no process has been spawned.
	StateNotStarted State = iota
	// StateSpawning means the executable is being started.
	StateSpawning
	// StateRunning means the process is alive.
	StateRunning
	// StateClosing means a termination signal was sent.
	StateClosing
	// StateClosed means the process exited and its output was drained.
	StateClosed
	// StateFailed means the executable could not be started.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Live reports whether a process in this state may still produce events.
func (s State) Live() bool {
	return s == StateSpawning || s == StateRunning || s == StateClosing
}

// EventKind tags an Event.
type EventKind int

const (
	EventSpawned EventKind = iota
	EventOutput
	EventErrored
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventSpawned:
		return "spawned"
	case EventOutput:
		return "output"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Stream identifies which output stream produced an EventOutput.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// ExitStatus describes how a process ended. Code and Signal are both empty
// when the exit could not be determined.
type ExitStatus struct {
	Code   *int
	Signal string
}

// Known reports whether either the code or the signal is set.
func (s ExitStatus) Known() bool {
	return s.Code != nil || s.Signal != ""
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != "":
		return "signal " + s.Signal
	case s.Code != nil:
		return "exit code " + strconv.Itoa(*s.Code)
	default:
		return "unknown exit"
	}
}

// Event is one entry in a supervisor's event stream.
type Event struct {
	Kind EventKind

	// Generation is the id of the Process that produced the event.
	Generation string

	// Data and Stream are set for EventOutput.
	Data   []byte
	Stream Stream

	// Err is set for EventErrored.
	Err error

	// Status is set for EventClosed.
	Status ExitStatus
}
