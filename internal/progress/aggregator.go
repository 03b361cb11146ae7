package progress

import (
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dshills/enginebridge/internal/timing"
)

// StatusIndicator is a persistent, single-line progress display.
type StatusIndicator interface {
	// Show replaces the displayed text and makes the indicator visible.
	Show(text string)
	// Hide removes the indicator.
	Hide()
}

// NotificationSurface opens cancellable notifications.
type NotificationSurface interface {
	// Open shows a notification titled title. onCancel is called when the
	// user asks to cancel the operation.
	Open(title string, onCancel func()) Notification
}

// Notification is one open notification.
type Notification interface {
	Update(message string)
	Close()
}

// Options configures an Aggregator.
type Options struct {
	Mode Mode

	// Indicator is used in ModeStatusIndicator.
	Indicator StatusIndicator

	// Notifier is used in ModeNotification.
	Notifier NotificationSurface

	// OnCancel is called whenever a notification is cancelled.
	OnCancel func()

	Clock  timing.Clock
	Logger *log.Logger
}

// Aggregator tracks active operations and renders them.
//
// Aggregator is safe for concurrent use. Surfaces are called with the
// aggregator's lock held and must not call back into it.
type Aggregator struct {
	mode      Mode
	indicator StatusIndicator
	notifier  NotificationSurface
	onCancel  func()
	clock     timing.Clock
	logger    *log.Logger

	mu      sync.Mutex
	entries map[OperationID]*Entry
	visible bool
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Aggregator{
		mode:      opts.Mode,
		indicator: opts.Indicator,
		notifier:  opts.Notifier,
		onCancel:  opts.OnCancel,
		clock:     timing.OrReal(opts.Clock),
		logger:    logger,
		entries:   make(map[OperationID]*Entry),
	}
}

// Mode returns the presentation mode chosen at construction.
func (a *Aggregator) Mode() Mode {
	return a.mode
}

// HandleProgress applies one progress event.
func (a *Aggregator) HandleProgress(ev Event) {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entries[ev.ID]
	if !ok {
		entry = &Entry{ID: ev.ID, Name: ev.Name, Started: now}
		a.entries[ev.ID] = entry
		if a.mode == ModeNotification && a.notifier != nil {
			entry.notification = a.notifier.Open(ev.Name, a.cancelled)
		}
		a.logger.Debug("progress started", "id", ev.ID.Value, "name", ev.Name)
	}

	entry.update(ev, now)
	a.render(entry)

	if ev.Done {
		entry.resolve()
		delete(a.entries, ev.ID)
		a.logger.Debug("progress done", "id", ev.ID.Value, "name", entry.Name)
		a.renderLatest()
	}
}

// StartIndeterminate reports an operation without measurable progress.
func (a *Aggregator) StartIndeterminate(name string, id OperationID) {
	a.HandleProgress(Event{ID: id, Name: name, Fraction: Indeterminate})
}

// Clear resolves and removes every entry and hides the indicator.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, entry := range a.entries {
		entry.resolve()
		delete(a.entries, id)
	}
	a.hide()
}

// Entries returns a snapshot of the active entries ordered by id.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		cp := *e
		cp.notification = nil
		out = append(out, cp)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Value < out[j].ID.Value })
	return out
}

// Len returns the number of active entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *Aggregator) cancelled() {
	a.logger.Info("progress cancel requested")
	if a.onCancel != nil {
		a.onCancel()
	}
}

// render shows entry on its surface.
func (a *Aggregator) render(entry *Entry) {
	switch a.mode {
	case ModeNotification:
		if entry.notification != nil {
			entry.notification.Update(entry.Message)
		}
	default:
		if a.indicator != nil {
			a.indicator.Show(entry.Message)
			a.visible = true
		}
	}
}

// renderLatest re-renders the indicator from the most recently updated
// entry, or hides it when none remain.
func (a *Aggregator) renderLatest() {
	if a.mode != ModeStatusIndicator {
		return
	}

	var latest *Entry
	for _, e := range a.entries {
		if latest == nil || e.Updated.After(latest.Updated) ||
			(e.Updated.Equal(latest.Updated) && e.ID.Value > latest.ID.Value) {
			latest = e
		}
	}

	if latest == nil {
		a.hide()
		return
	}
	a.render(latest)
}

func (a *Aggregator) hide() {
	if a.visible && a.indicator != nil {
		a.indicator.Hide()
	}
	a.visible = false
}
