package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

const readChunkSize = 32 * 1024

// Supervisor owns the engine process and fans its events out to
// subscribers.
//
// Event delivery blocks on slow subscribers rather than dropping events, so
// every subscriber sees the complete ordered stream. Unsubscribe to stop
// receiving.
type Supervisor struct {
	mu      sync.Mutex
	current *Process
	owner   string
	cols    uint16
	rows    uint16

	subMu   sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64

	// emitMu serializes broadcasts so all subscribers see one order.
	emitMu sync.Mutex

	closed atomic.Bool

	logger     *log.Logger
	bufferSize int
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(logger *log.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBufferSize sets the per-subscriber event buffer. Sizes below one are
// ignored and DefaultBufferSize is kept.
func WithBufferSize(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n >= 1 {
			s.bufferSize = n
		}
	}
}

// NewSupervisor creates a supervisor with no process.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		subs:       make(map[uint64]*subscriber),
		logger:     log.New(io.Discard),
		bufferSize: DefaultBufferSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Attach claims the supervisor for owner. The returned release func gives
// it up again; calling it more than once is harmless.
func (s *Supervisor) Attach(owner string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != "" {
		return nil, fmt.Errorf("%w: owned by %s", ErrAlreadyAttached, s.owner)
	}
	s.owner = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.owner == owner {
				s.owner = ""
			}
			s.mu.Unlock()
		})
	}, nil
}

// Subscribe returns a channel receiving every event emitted from now on,
// and a func that unsubscribes and closes the channel.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		ch:   make(chan Event, s.bufferSize),
		done: make(chan struct{}),
	}

	s.subMu.Lock()
	if s.closed.Load() {
		s.subMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	s.subMu.Unlock()

	return sub.ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
		s.closeSubscriber(sub)
	}
}

// closeSubscriber stops delivery to sub and closes its channel.
func (s *Supervisor) closeSubscriber(sub *subscriber) {
	sub.once.Do(func() {
		close(sub.done)
		s.emitMu.Lock()
		close(sub.ch)
		s.emitMu.Unlock()
	})
}

// Spawn starts a new engine generation.
//
// It fails with ErrAlreadyRunning while a previous generation is live and
// with *SpawnError when the executable cannot be started. ctx only bounds
// the spawn itself; the process outlives it.
func (s *Supervisor) Spawn(ctx context.Context, command Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrSupervisorShutdown
	}
	if s.current != nil && s.current.State().Live() {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if command.PTY && s.cols > 0 && s.rows > 0 && command.Cols == 0 {
		command.Cols, command.Rows = s.cols, s.rows
	}

	proc := newProcess(uuid.New().String(), command)
	s.current = proc

	if err := proc.start(); err != nil {
		proc.state.Store(int32(StateFailed))
		close(proc.done)
		s.mu.Unlock()

		spawnErr := &SpawnError{Path: command.Path, Args: command.Args, Err: err}
		s.logger.Error("engine spawn failed", "path", command.Path, "err", err)
		return nil, spawnErr
	}
	proc.state.Store(int32(StateRunning))
	s.mu.Unlock()

	s.logger.Info("engine spawned", "generation", proc.ID, "pid", proc.PID(), "pty", command.PTY)

	go s.pump(proc)

	return proc, nil
}

// pump announces the generation, reads its output until end of file, then
// reaps it and emits the final close event. Spawn never delivers events
// itself, so a caller may start reading its subscription after Spawn returns.
func (s *Supervisor) pump(proc *Process) {
	s.emit(Event{Kind: EventSpawned, Generation: proc.ID})

	out := make(chan Event)
	var wg sync.WaitGroup

	for _, sr := range proc.readers {
		wg.Add(1)
		go func(sr streamReader) {
			defer wg.Done()
			s.readStream(proc, sr, out)
		}(sr)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for ev := range out {
		s.emit(ev)
	}

	if err := proc.wait(); err != nil {
		s.logger.Warn("engine wait failed", "generation", proc.ID, "err", err)
		s.emit(Event{Kind: EventErrored, Generation: proc.ID, Err: err})
	}

	status := proc.ExitStatus()
	s.logger.Info("engine exited", "generation", proc.ID, "status", status.String())
	s.emit(Event{Kind: EventClosed, Generation: proc.ID, Status: status})
}

func (s *Supervisor) readStream(proc *Process, sr streamReader, out chan<- Event) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := sr.r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- Event{Kind: EventOutput, Generation: proc.ID, Data: data, Stream: sr.stream}
		}
		if err != nil {
			if !isEndOfStream(err) {
				out <- Event{Kind: EventErrored, Generation: proc.ID, Err: err}
			}
			return
		}
	}
}

// isEndOfStream reports errors that mean the stream simply ended. Reading
// a pseudo-terminal master after the child exits yields EIO on Linux.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}

func (s *Supervisor) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.subMu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// Write forwards data to the live process. Without one the data is
// dropped and Write reports success.
func (s *Supervisor) Write(data []byte) (int, error) {
	proc := s.Current()
	if proc == nil || !proc.State().Live() {
		s.logger.Debug("dropping input, no live engine", "bytes", len(data))
		return len(data), nil
	}
	n, err := proc.Write(data)
	if errors.Is(err, ErrNotRunning) {
		return len(data), nil
	}
	return n, err
}

// SetDimensions resizes the live pseudo-terminal and remembers the size for
// the next spawn. Failures are logged, never returned.
func (s *Supervisor) SetDimensions(cols, rows uint16) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	proc := s.current
	s.mu.Unlock()

	if proc == nil || !proc.State().Live() {
		return
	}
	if err := proc.resize(cols, rows); err != nil {
		s.logger.Debug("resize failed", "cols", cols, "rows", rows, "err", err)
	}
}

// Terminate signals the live process to stop. sig nil means SIGTERM.
// Calling it without a live process, or again while closing, does nothing.
func (s *Supervisor) Terminate(sig os.Signal) error {
	if sig == nil {
		sig = defaultTerminateSignal
	}

	s.mu.Lock()
	proc := s.current
	if proc == nil || proc.State() != StateRunning {
		s.mu.Unlock()
		return nil
	}
	proc.state.Store(int32(StateClosing))
	s.mu.Unlock()

	s.logger.Debug("terminating engine", "generation", proc.ID, "signal", sig.String())
	proc.closeInput()
	return proc.Signal(sig)
}

// Current returns the most recent generation, or nil before the first spawn.
func (s *Supervisor) Current() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State returns the state of the most recent generation.
func (s *Supervisor) State() State {
	proc := s.Current()
	if proc == nil {
		return StateNotStarted
	}
	return proc.State()
}

// Shutdown terminates the live process and closes every subscription.
// If the process is still running when ctx is done it is killed and
// subscriptions are closed without waiting for the final events. The
// supervisor cannot spawn afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	var err error
	if proc := s.Current(); proc != nil && proc.State().Live() {
		_ = s.Terminate(nil)
		select {
		case <-proc.Done():
		case <-ctx.Done():
			err = ctx.Err()
			_ = proc.Kill()
			s.closeAllSubscribers()
			<-proc.Done()
		}
	}

	s.closeAllSubscribers()
	return err
}

func (s *Supervisor) closeAllSubscribers() {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*subscriber)
	s.subMu.Unlock()

	for _, sub := range subs {
		s.closeSubscriber(sub)
	}
}
