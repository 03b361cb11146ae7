package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestConsoleIndicator_ShowAndHide(t *testing.T) {
	var out syncBuffer
	ind := NewConsoleIndicator(&out)

	ind.Show("Indexing 10.0%")
	ind.Show("Indexing 20.0%")
	assert.Equal(t, "Indexing 20.0%", ind.Text())
	ind.Hide()

	s := out.String()
	assert.Contains(t, s, "Indexing 10.0%")
	assert.Contains(t, s, "Indexing 20.0%")
	assert.True(t, strings.HasSuffix(s, "\r\033[K"))

	// Hiding twice and showing again both work.
	ind.Hide()
	ind.Show("again")
	ind.Hide()
	assert.Contains(t, out.String(), "again")
}

func TestConsoleIndicator_WithAggregator(t *testing.T) {
	var out syncBuffer
	ind := NewConsoleIndicator(&out)
	agg := New(Options{Indicator: ind})

	agg.StartIndeterminate("Resolving", op(1))
	agg.HandleProgress(Event{ID: op(1), Name: "Resolving", Fraction: 1, Done: true})

	assert.Contains(t, out.String(), "Resolving")
	assert.True(t, strings.HasSuffix(out.String(), "\r\033[K"))
}

func TestLogNotifier(t *testing.T) {
	var logs bytes.Buffer
	notifier := NewLogNotifier(log.New(&logs))

	var cancels int
	agg := New(Options{
		Mode:     ModeNotification,
		Notifier: notifier,
		OnCancel: func() { cancels++ },
	})

	agg.HandleProgress(Event{ID: op(1), Name: "Indexing", Fraction: 0.5})
	agg.StartIndeterminate("Testing", op(2))
	require.Equal(t, 2, notifier.Len())

	assert.Equal(t, 2, notifier.CancelAll())
	assert.Equal(t, 2, cancels)

	agg.HandleProgress(Event{ID: op(1), Name: "Indexing", Fraction: 1, Done: true})
	assert.Equal(t, 1, notifier.Len())

	agg.Clear()
	assert.Zero(t, notifier.Len())
	assert.Zero(t, notifier.CancelAll())

	s := logs.String()
	assert.Contains(t, s, "Indexing 50.0%")
	assert.Contains(t, s, "cancelling")
	assert.Contains(t, s, "finished")
}
