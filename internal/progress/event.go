package progress

import (
	"fmt"
	"strings"
)

// Indeterminate is the fraction used for operations without measurable
// progress. Any fraction outside [0, 1] is treated the same way.
const Indeterminate = -1.0

// OperationID groups the progress events of one operation.
type OperationID struct {
	Value int64 `json:"value"`
}

// String returns the numeric id.
func (id OperationID) String() string {
	return fmt.Sprintf("%d", id.Value)
}

// Event is one progress report as sent by the engine.
type Event struct {
	ID       OperationID `json:"id"`
	Name     string      `json:"name"`
	Fraction float64     `json:"fraction"`
	Done     bool        `json:"done"`
}

// Determinate reports whether the fraction is a real ratio.
func (e Event) Determinate() bool {
	return determinate(e.Fraction)
}

func determinate(f float64) bool {
	return f >= 0 && f <= 1
}

// Mode selects how progress is presented.
type Mode int

const (
	// ModeStatusIndicator renders every operation on one shared indicator.
	ModeStatusIndicator Mode = iota
	// ModeNotification opens a cancellable notification per operation.
	ModeNotification
)

// String returns the mode's configuration name.
func (m Mode) String() string {
	switch m {
	case ModeStatusIndicator:
		return "status"
	case ModeNotification:
		return "notification"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "status", "indicator":
		return ModeStatusIndicator, nil
	case "notification", "notify":
		return ModeNotification, nil
	default:
		return 0, fmt.Errorf("unknown progress mode %q", s)
	}
}
