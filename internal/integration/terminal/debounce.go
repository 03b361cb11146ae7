package terminal

import (
	"sync"
	"time"

	"github.com/dshills/enginebridge/internal/integration/process"
	"github.com/dshills/enginebridge/internal/timing"
)

// DefaultQuietPeriod is how long output must stay silent after the exit
// before the terminal closes.
const DefaultQuietPeriod = 250 * time.Millisecond

// DebounceState is the state of a CloseDebouncer.
type DebounceState int

const (
	// Idle means no exit has been observed.
	Idle DebounceState = iota
	// PendingClose means the exit was seen and the quiet period is running.
	PendingClose
	// Fired means the close was delivered; the debouncer ignores further input.
	Fired
)

func (s DebounceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingClose:
		return "pending_close"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// CloseDebouncer delays a process exit until its output has been quiet for
// a full quiet period. It fires at most once until Reset.
type CloseDebouncer struct {
	mu       sync.Mutex
	clock    timing.Clock
	quiet    time.Duration
	state    DebounceState
	deadline time.Time
	status   process.ExitStatus
	timer    timing.Timer
	seq      uint64 // detects stale timer callbacks
	onClose  func(process.ExitStatus)
}

// NewCloseDebouncer creates an idle debouncer. onClose runs on the clock's
// timer goroutine.
func NewCloseDebouncer(clock timing.Clock, quiet time.Duration, onClose func(process.ExitStatus)) *CloseDebouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &CloseDebouncer{
		clock:   timing.OrReal(clock),
		quiet:   quiet,
		onClose: onClose,
	}
}

// Exited moves Idle to PendingClose with the given exit status.
func (d *CloseDebouncer) Exited(status process.ExitStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Fired {
		return
	}
	d.status = status
	d.state = PendingClose
	d.armLocked()
}

// Output restarts the quiet period when a close is pending.
func (d *CloseDebouncer) Output() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != PendingClose {
		return
	}
	d.armLocked()
}

// Cancel stops a pending close without firing and marks the debouncer
// fired so nothing else is delivered.
func (d *CloseDebouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.state = Fired
}

// Reset returns the debouncer to Idle for a new process generation.
func (d *CloseDebouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.state = Idle
	d.status = process.ExitStatus{}
	d.deadline = time.Time{}
}

// State returns the current state and, when pending, the close deadline.
func (d *CloseDebouncer) State() (DebounceState, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.deadline
}

func (d *CloseDebouncer) armLocked() {
	d.stopLocked()
	d.deadline = d.clock.Now().Add(d.quiet)
	currentSeq := d.seq

	d.timer = d.clock.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		if d.state != PendingClose || d.seq != currentSeq {
			d.mu.Unlock()
			return
		}
		d.state = Fired
		d.timer = nil
		status := d.status
		d.mu.Unlock()

		if d.onClose != nil {
			d.onClose(status)
		}
	})
}

func (d *CloseDebouncer) stopLocked() {
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
