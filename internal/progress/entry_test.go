package progress

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	start := epoch
	tests := []struct {
		name     string
		fraction float64
		elapsed  time.Duration
		want     string
	}{
		{"zero fraction", 0, 5 * time.Second, "Indexing 0.0%"},
		{"quarter", 0.25, 10 * time.Second, "Indexing 25.0% (30s remaining)"},
		{"rounding", 0.333, 10 * time.Second, "Indexing 33.3% (20s remaining)"},
		{"minutes", 0.1, 10 * time.Second, "Indexing 10.0% (1m30s remaining)"},
		{"complete", 1, time.Minute, "Indexing 100.0% (0s remaining)"},
		{"indeterminate", Indeterminate, time.Minute, "Indexing"},
		{"above one", 1.5, time.Minute, "Indexing"},
		{"nan", math.NaN(), time.Minute, "Indexing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message("Indexing", tt.fraction, start, start.Add(tt.elapsed)))
		})
	}
}

func TestRemaining_NoStartTime(t *testing.T) {
	_, ok := Remaining(0.5, time.Time{}, epoch)
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Notification")
	assert.NoError(t, err)
	assert.Equal(t, ModeNotification, m)

	m, err = ParseMode("")
	assert.NoError(t, err)
	assert.Equal(t, ModeStatusIndicator, m)
	assert.Equal(t, "status", m.String())

	_, err = ParseMode("popup")
	assert.Error(t, err)
}
