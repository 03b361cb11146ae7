package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/dshills/enginebridge/internal/integration/process"
	"github.com/dshills/enginebridge/internal/timing"
)

// DefaultSoftCloseTimeout bounds how long a soft-closed terminal waits for
// a keystroke before closing on its own.
const DefaultSoftCloseTimeout = 30 * time.Second

// Backend is the process side of a pseudo-terminal. *process.Supervisor
// implements it.
type Backend interface {
	Attach(owner string) (release func(), err error)
	Subscribe() (<-chan process.Event, func())
	Spawn(ctx context.Context, cmd process.Command) (*process.Process, error)
	Write(data []byte) (int, error)
	SetDimensions(cols, rows uint16)
	Terminate(sig os.Signal) error
}

// Dimensions is a terminal size in character cells.
type Dimensions struct {
	Cols int
	Rows int
}

// Bool returns a pointer to v, for the optional flags in Options.
func Bool(v bool) *bool { return &v }

func enabled(flag *bool) bool { return flag != nil && *flag }

// Options configures a Pseudoterminal.
type Options struct {
	// Command is the engine executable.
	Command string

	// Args are passed to the engine.
	Args []string

	// Dir is the engine's working directory.
	Dir string

	// Env overrides inherited environment entries.
	Env map[string]string

	// ShowCommand echoes the command line before the engine starts. Nil
	// means false.
	ShowCommand *bool

	// ExitMessage formats the text written when the engine exits. An empty
	// result, or a nil formatter, closes the terminal immediately.
	ExitMessage func(status process.ExitStatus) string

	// ShowDefaultError reports the real exit code on close. When false or
	// nil the code is reported as nil so the editor shows no error of its
	// own.
	ShowDefaultError *bool

	// QuietPeriod defaults to DefaultQuietPeriod.
	QuietPeriod time.Duration

	// SoftCloseTimeout defaults to DefaultSoftCloseTimeout. Negative
	// disables the timeout.
	SoftCloseTimeout time.Duration

	// Clock defaults to the real clock.
	Clock timing.Clock

	// Logger defaults to a discard logger.
	Logger *log.Logger

	// Notify shows an error to the user.
	Notify func(err error)

	// OnWrite receives text for the editor's terminal.
	OnWrite func(text string)

	// OnClose fires once when the terminal closes.
	OnClose func(code *int)
}

// Pseudoterminal adapts the engine process to an editor terminal.
type Pseudoterminal struct {
	backend Backend
	opts    Options
	clock   timing.Clock
	logger  *log.Logger

	debouncer *CloseDebouncer

	mu          sync.Mutex
	opened      bool
	closed      bool
	softClosed  bool
	softCode    *int
	softTimer   timing.Timer
	release     func()
	unsubscribe func()
	crlf        crlfNormalizer
}

// New creates an unopened pseudo-terminal over backend.
func New(backend Backend, opts Options) *Pseudoterminal {
	if opts.SoftCloseTimeout == 0 {
		opts.SoftCloseTimeout = DefaultSoftCloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	t := &Pseudoterminal{
		backend: backend,
		opts:    opts,
		clock:   timing.OrReal(opts.Clock),
		logger:  opts.Logger.WithPrefix("terminal"),
	}
	t.debouncer = NewCloseDebouncer(t.clock, opts.QuietPeriod, t.exitSettled)
	return t
}

// Open attaches to the backend, echoes the banner and spawns the engine.
// A spawn failure is notified, closes the terminal and is returned.
func (t *Pseudoterminal) Open(ctx context.Context, dims *Dimensions) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTerminalClosed
	}
	if t.opened {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}

	release, err := t.backend.Attach("terminal")
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("attach terminal: %w", err)
	}
	events, unsubscribe := t.backend.Subscribe()

	t.opened = true
	t.release = release
	t.unsubscribe = unsubscribe
	t.crlf.reset()
	t.debouncer.Reset()
	t.mu.Unlock()

	cmd := process.Command{
		Path: t.opts.Command,
		Args: t.opts.Args,
		Dir:  t.opts.Dir,
		Env:  t.opts.Env,
		PTY:  true,
	}
	if dims != nil && dims.Cols > 0 && dims.Rows > 0 {
		cmd.Cols, cmd.Rows = uint16(dims.Cols), uint16(dims.Rows)
	}

	if enabled(t.opts.ShowCommand) {
		t.write(banner(t.opts.Command, t.opts.Args))
	}

	proc, err := t.backend.Spawn(ctx, cmd)
	if err != nil {
		t.notify(err)
		t.finish(nil)
		return err
	}

	go t.run(events, proc.ID)
	return nil
}

func (t *Pseudoterminal) run(events <-chan process.Event, generation string) {
	for ev := range events {
		if ev.Generation != generation {
			continue
		}
		t.handleEvent(ev)
	}
}

func (t *Pseudoterminal) handleEvent(ev process.Event) {
	switch ev.Kind {
	case process.EventSpawned:
		t.logger.Debug("engine started", "generation", ev.Generation)

	case process.EventOutput:
		t.mu.Lock()
		if t.closed || t.softClosed {
			t.mu.Unlock()
			return
		}
		text := t.crlf.normalize(ev.Data)
		t.mu.Unlock()

		t.emitWrite(text)
		t.debouncer.Output()

	case process.EventErrored:
		t.logger.Error("engine error", "err", ev.Err)
		t.notify(ev.Err)
		t.debouncer.Cancel()
		_ = t.backend.Terminate(nil)
		t.finish(nil)

	case process.EventClosed:
		t.logger.Debug("engine exited", "status", ev.Status.String())
		t.debouncer.Exited(ev.Status)
	}
}

// exitSettled runs once the output has been quiet after the exit.
func (t *Pseudoterminal) exitSettled(status process.ExitStatus) {
	code := t.reportedCode(status)

	var message string
	if t.opts.ExitMessage != nil {
		message = t.opts.ExitMessage(status)
	}
	if message == "" {
		t.finish(code)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.softClosed = true
	t.softCode = code
	text := t.crlf.normalize([]byte(message))
	if t.opts.SoftCloseTimeout > 0 {
		t.softTimer = t.clock.AfterFunc(t.opts.SoftCloseTimeout, func() {
			t.logger.Debug("soft close timed out")
			t.finish(code)
		})
	}
	t.mu.Unlock()

	t.emitWrite(text)
}

func (t *Pseudoterminal) reportedCode(status process.ExitStatus) *int {
	if !enabled(t.opts.ShowDefaultError) || status.Code == nil {
		return nil
	}
	code := *status.Code
	return &code
}

// HandleInput forwards keyboard input to the engine. After a soft close
// any input closes the terminal instead.
func (t *Pseudoterminal) HandleInput(text string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.softClosed {
		code := t.softCode
		t.mu.Unlock()
		t.finish(code)
		return
	}
	t.mu.Unlock()

	if _, err := t.backend.Write([]byte(text)); err != nil {
		t.logger.Warn("input dropped", "err", err)
	}
}

// SetDimensions resizes the engine's terminal. Non-positive sizes are
// ignored.
func (t *Pseudoterminal) SetDimensions(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		t.logger.Debug("ignoring resize", "err", ErrInvalidSize, "cols", cols, "rows", rows)
		return
	}
	t.backend.SetDimensions(uint16(cols), uint16(rows))
}

// Close is called when the editor closes the terminal. It stops the engine
// and detaches without firing OnClose.
func (t *Pseudoterminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.debouncer.Cancel()
	if err := t.backend.Terminate(nil); err != nil {
		t.logger.Warn("terminate engine", "err", err)
	}
	t.teardown()
}

// Closed reports whether the terminal has closed.
func (t *Pseudoterminal) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// finish fires the close event once and detaches from the backend.
func (t *Pseudoterminal) finish(code *int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.teardown()

	if t.opts.OnClose != nil {
		t.opts.OnClose(code)
	}
}

func (t *Pseudoterminal) teardown() {
	t.mu.Lock()
	if t.softTimer != nil {
		t.softTimer.Stop()
		t.softTimer = nil
	}
	unsubscribe, release := t.unsubscribe, t.release
	t.unsubscribe, t.release = nil, nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if release != nil {
		release()
	}
}

func (t *Pseudoterminal) write(text string) {
	t.mu.Lock()
	text = t.crlf.normalize([]byte(text))
	t.mu.Unlock()
	t.emitWrite(text)
}

func (t *Pseudoterminal) emitWrite(text string) {
	if t.opts.OnWrite != nil && text != "" {
		t.opts.OnWrite(text)
	}
}

func (t *Pseudoterminal) notify(err error) {
	if t.opts.Notify != nil && err != nil {
		t.opts.Notify(err)
	}
}

var bannerStyle = lipgloss.NewStyle().Bold(true)

// banner renders the echoed command line followed by a blank line.
func banner(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{command}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return bannerStyle.Render("> "+strings.Join(parts, " ")) + "\n\n"
}
