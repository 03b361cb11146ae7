package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// ConsoleIndicator is a StatusIndicator that redraws one spinner line on
// a terminal.
type ConsoleIndicator struct {
	w        io.Writer
	frames   []string
	interval time.Duration
	style    lipgloss.Style

	mu    sync.Mutex
	text  string
	frame int
	stop  chan struct{}
	done  chan struct{}
}

// NewConsoleIndicator creates an indicator that draws to w.
func NewConsoleIndicator(w io.Writer) *ConsoleIndicator {
	return &ConsoleIndicator{
		w:        w,
		frames:   spinner.MiniDot.Frames,
		interval: spinner.MiniDot.FPS,
		style:    lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	}
}

// Show sets the text and starts the animation if it is not running.
func (c *ConsoleIndicator) Show(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.text = text
	c.drawLocked()

	if c.stop == nil {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.spin(c.stop, c.done)
	}
}

// Hide stops the animation and clears the line.
func (c *ConsoleIndicator) Hide() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	c.mu.Lock()
	fmt.Fprint(c.w, "\r\033[K")
	c.mu.Unlock()
}

// Text returns the text last shown.
func (c *ConsoleIndicator) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *ConsoleIndicator) spin(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.frame++
			c.drawLocked()
			c.mu.Unlock()
		case <-stop:
			return
		}
	}
}

func (c *ConsoleIndicator) drawLocked() {
	frame := c.frames[c.frame%len(c.frames)]
	fmt.Fprintf(c.w, "\r\033[K%s %s", c.style.Render(frame), c.text)
}

// LogNotifier is a NotificationSurface that reports notifications as log
// lines. CancelAll stands in for the user pressing cancel.
type LogNotifier struct {
	logger *log.Logger

	mu   sync.Mutex
	next uint64
	open map[uint64]*logNotification
}

// NewLogNotifier creates a notifier that logs to logger.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &LogNotifier{
		logger: logger,
		open:   make(map[uint64]*logNotification),
	}
}

// Open implements NotificationSurface.
func (n *LogNotifier) Open(title string, onCancel func()) Notification {
	n.mu.Lock()
	n.next++
	note := &logNotification{owner: n, key: n.next, title: title, onCancel: onCancel}
	n.open[note.key] = note
	n.mu.Unlock()

	n.logger.Info("started", "operation", title)
	return note
}

// Len returns the number of open notifications.
func (n *LogNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.open)
}

// CancelAll requests cancellation through every open notification and
// returns how many there were.
func (n *LogNotifier) CancelAll() int {
	n.mu.Lock()
	notes := make([]*logNotification, 0, len(n.open))
	for _, note := range n.open {
		notes = append(notes, note)
	}
	n.mu.Unlock()

	for _, note := range notes {
		n.logger.Warn("cancelling", "operation", note.title)
		if note.onCancel != nil {
			note.onCancel()
		}
	}
	return len(notes)
}

type logNotification struct {
	owner    *LogNotifier
	key      uint64
	title    string
	onCancel func()
}

func (l *logNotification) Update(message string) {
	l.owner.logger.Info(message, "operation", l.title)
}

func (l *logNotification) Close() {
	l.owner.mu.Lock()
	delete(l.owner.open, l.key)
	l.owner.mu.Unlock()

	l.owner.logger.Info("finished", "operation", l.title)
}
