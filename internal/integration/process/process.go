package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Command describes how to start the engine.
type Command struct {
	// Path is the executable, resolved through PATH when it has no separator.
	Path string

	// Args are passed after the executable name.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env overrides entries of the inherited environment.
	Env map[string]string

	// PTY runs the process on a pseudo-terminal instead of pipes.
	PTY bool

	// Cols and Rows are the initial pseudo-terminal size. Zero means 80x24.
	Cols, Rows uint16
}

// Process is one generation of the engine process.
//
// A Process is created by Supervisor.Spawn and never restarted; a respawn
// builds a new Process with a new ID.
type Process struct {
	// ID identifies this generation.
	ID string

	// Command is the command the process was started with.
	Command Command

	// Started is the time the process was started.
	Started time.Time

	cmd   *exec.Cmd
	stdin io.WriteCloser
	tty   *os.File

	// readers are drained by the supervisor's pump.
	readers []streamReader

	state atomic.Int32
	done  chan struct{}

	mu     sync.Mutex // protects status and serializes writes
	status ExitStatus
}

type streamReader struct {
	r      io.Reader
	stream Stream
}

func newProcess(id string, command Command) *Process {
	p := &Process{
		ID:      id,
		Command: command,
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateSpawning))
	return p
}

// State returns the current state of this generation.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done is closed once the process has exited and its output was drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns how the process ended. It is empty until Done is closed.
func (p *Process) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// PID returns the OS process id, or -1 if the process never started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Write sends data to the process's input.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateRunning && s != StateClosing {
		return 0, ErrNotRunning
	}

	var w io.Writer = p.stdin
	if p.tty != nil {
		w = p.tty
	}
	n, err := w.Write(data)
	if err != nil {
		return n, fmt.Errorf("write to engine: %w", err)
	}
	return n, nil
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNotRunning
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal engine: %w", err)
	}
	return nil
}

// Kill forcibly stops the process.
func (p *Process) Kill() error {
	return p.Signal(os.Kill)
}

// Runtime returns how long the process has been (or was) running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

// resize applies a pseudo-terminal size. It is a no-op for piped processes.
func (p *Process) resize(cols, rows uint16) error {
	if p.tty == nil {
		return nil
	}
	return pty.Setsize(p.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

// start launches the executable with pipes or a pseudo-terminal.
func (p *Process) start() error {
	c := p.Command
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = MergeEnv(os.Environ(), c.Env)
	p.cmd = cmd

	if c.PTY {
		cols, rows := c.Cols, c.Rows
		if cols == 0 || rows == 0 {
			cols, rows = 80, 24
		}
		tty, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
		if err != nil {
			return err
		}
		p.tty = tty
		p.readers = []streamReader{{r: tty, stream: Stdout}}
		p.Started = time.Now()
		return nil
	}

	// Track created pipes for cleanup on error
	var created []io.Closer
	cleanup := func() {
		for _, c := range created {
			_ = c.Close()
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	created = append(created, stdin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	created = append(created, stdout)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	created = append(created, stderr)

	if err := cmd.Start(); err != nil {
		cleanup()
		return err
	}

	p.stdin = stdin
	p.readers = []streamReader{
		{r: stdout, stream: Stdout},
		{r: stderr, stream: Stderr},
	}
	p.Started = time.Now()
	return nil
}

// wait reaps the process after its readers finished and records the exit.
// A non-nil error is a wait failure unrelated to the exit status.
func (p *Process) wait() error {
	err := p.cmd.Wait()
	if p.tty != nil {
		_ = p.tty.Close()
	}

	var status ExitStatus
	var waitErr error

	if ps := p.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = signalName(ws.Signal())
		} else if code := ps.ExitCode(); code >= 0 {
			status.Code = &code
		}
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		waitErr = fmt.Errorf("wait for engine: %w", err)
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	p.state.Store(int32(StateClosed))
	close(p.done)
	return waitErr
}

// closeInput closes the input side so the process sees end of file.
func (p *Process) closeInput() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
}
