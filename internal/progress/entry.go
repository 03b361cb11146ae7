package progress

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Entry is the state of one active operation.
type Entry struct {
	ID       OperationID
	Name     string
	Fraction float64
	Started  time.Time
	Updated  time.Time
	Message  string

	notification Notification
}

// update applies ev and recomputes the message.
func (e *Entry) update(ev Event, now time.Time) {
	if ev.Name != "" {
		e.Name = ev.Name
	}
	e.Fraction = ev.Fraction
	e.Updated = now
	e.Message = Message(e.Name, e.Fraction, e.Started, now)
}

// resolve closes the entry's notification, if any.
func (e *Entry) resolve() {
	if e.notification != nil {
		e.notification.Close()
		e.notification = nil
	}
}

// Message formats the text shown for an operation.
func Message(name string, fraction float64, started, now time.Time) string {
	var b strings.Builder
	b.WriteString(name)

	if !determinate(fraction) {
		return b.String()
	}
	fmt.Fprintf(&b, " %.1f%%", fraction*100)

	if remaining, ok := Remaining(fraction, started, now); ok {
		fmt.Fprintf(&b, " (%s remaining)", remaining)
	}
	return b.String()
}

// Remaining estimates the time left from the elapsed time and the fraction
// done, rounded to whole seconds. It reports false when the estimate is
// not finite or there is no start time.
func Remaining(fraction float64, started, now time.Time) (time.Duration, bool) {
	if started.IsZero() || !determinate(fraction) || fraction == 0 {
		return 0, false
	}

	elapsed := now.Sub(started).Seconds()
	secs := (1/fraction - 1) * elapsed
	if math.IsInf(secs, 0) || math.IsNaN(secs) || secs < 0 {
		return 0, false
	}
	return time.Duration(math.Round(secs)) * time.Second, true
}
