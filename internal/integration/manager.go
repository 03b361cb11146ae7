package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/dshills/enginebridge/internal/channel"
	"github.com/dshills/enginebridge/internal/config"
	"github.com/dshills/enginebridge/internal/integration/process"
	"github.com/dshills/enginebridge/internal/integration/terminal"
	"github.com/dshills/enginebridge/internal/progress"
	"github.com/dshills/enginebridge/internal/timing"
)

const (
	// DefaultShutdownTimeout bounds how long Close waits for engines to exit.
	DefaultShutdownTimeout = 5 * time.Second

	// restartResetWindow is how long an engine must stay up before its
	// restart count starts over.
	restartResetWindow = 5 * time.Minute

	// restartConnectTimeout bounds one eager reconnect.
	restartConnectTimeout = 30 * time.Second

	backoffMultiplier = 2.0

	// terminalEventBuffer absorbs bursts of pseudo-terminal output.
	terminalEventBuffer = 256
)

// Manager ties the engine process, the request channel and the progress
// aggregator together.
//
// It provides:
//   - Requests to the engine over the configured transport
//   - Routing of unsolicited progress and log traffic
//   - Eager respawn with exponential backoff
//   - Pseudo-terminals running the engine on their own supervisors
//
// Manager is safe for concurrent use.
type Manager struct {
	cfg             *config.Config
	logger          *log.Logger
	clock           timing.Clock
	eventBus        EventPublisher
	shutdownTimeout time.Duration
	onCancel        func()

	supervisor *process.Supervisor
	channel    *channel.Channel
	progress   *progress.Aggregator

	mu           sync.Mutex
	generation   string
	restarts     int
	lastStart    time.Time
	lastErr      error
	failed       bool
	restartTimer timing.Timer
	terminals    []*process.Supervisor

	// Lifecycle
	closed      atomic.Bool
	shutdown    chan struct{}
	watchDone   chan struct{}
	unsubscribe func()
	startTime   time.Time
}

// ManagerOption configures a Manager instance.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger          *log.Logger
	eventBus        EventPublisher
	clock           timing.Clock
	indicator       progress.StatusIndicator
	notifier        progress.NotificationSurface
	onCancel        func()
	connector       channel.Connector
	shutdownTimeout time.Duration
}

// WithLogger sets the manager's logger.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithEventBus sets the event publisher.
func WithEventBus(eb EventPublisher) ManagerOption {
	return func(o *managerOptions) {
		o.eventBus = eb
	}
}

// WithClock sets the clock used for restart backoff and progress timing.
func WithClock(c timing.Clock) ManagerOption {
	return func(o *managerOptions) {
		o.clock = c
	}
}

// WithIndicator sets the surface for the status indicator progress mode.
func WithIndicator(ind progress.StatusIndicator) ManagerOption {
	return func(o *managerOptions) {
		o.indicator = ind
	}
}

// WithNotifier sets the surface for the notification progress mode.
func WithNotifier(n progress.NotificationSurface) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = n
	}
}

// WithOnCancel sets the callback for cancel requests from progress
// notifications.
func WithOnCancel(fn func()) ManagerOption {
	return func(o *managerOptions) {
		o.onCancel = fn
	}
}

// WithConnector overrides the connector derived from the channel config.
func WithConnector(c channel.Connector) ManagerOption {
	return func(o *managerOptions) {
		o.connector = c
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.shutdownTimeout = timeout
	}
}

// NewManager creates a manager for cfg. The engine is started lazily by
// the first request, or eagerly by Start.
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfiguration)
	}

	options := &managerOptions{
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = log.New(io.Discard)
	}

	mode, err := progress.ParseMode(cfg.Progress.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	m := &Manager{
		cfg:             cfg,
		logger:          options.logger,
		clock:           timing.OrReal(options.clock),
		eventBus:        options.eventBus,
		shutdownTimeout: options.shutdownTimeout,
		onCancel:        options.onCancel,
		shutdown:        make(chan struct{}),
		watchDone:       make(chan struct{}),
	}
	m.startTime = m.clock.Now()

	m.supervisor = process.NewSupervisor(process.WithLogger(m.logger.WithPrefix("process")))

	connector := options.connector
	if connector == nil {
		connector, err = m.connectorFor(cfg)
		if err != nil {
			return nil, err
		}
	}

	m.channel = channel.New(m.observeConnect(connector),
		channel.WithLogger(m.logger.WithPrefix("channel")),
		channel.WithUnsolicited(m.handleUnsolicited),
		channel.WithOnReset(m.handleReset),
		channel.WithMaxFrameSize(cfg.Channel.MaxFrameSize),
	)

	m.progress = progress.New(progress.Options{
		Mode:      mode,
		Indicator: options.indicator,
		Notifier:  options.notifier,
		OnCancel:  m.progressCancelled,
		Clock:     m.clock,
		Logger:    m.logger.WithPrefix("progress"),
	})

	events, unsubscribe := m.supervisor.Subscribe()
	m.unsubscribe = unsubscribe
	go m.watchEngine(events)

	m.publishEvent(Topics.ManagerStarted, map[string]any{
		"transport": cfg.Channel.Transport,
	})

	return m, nil
}

func (m *Manager) connectorFor(cfg *config.Config) (channel.Connector, error) {
	switch cfg.Channel.Transport {
	case config.TransportStdio, "":
		return &channel.ProcessConnector{
			Supervisor: m.supervisor,
			Command:    cfg.Engine.Command(),
			Logger:     m.logger.WithPrefix("engine"),
		}, nil
	case config.TransportTCP, config.TransportUnix:
		return &channel.DialConnector{Network: cfg.Channel.Transport, Address: cfg.Channel.Address}, nil
	case config.TransportWebSocket:
		return &channel.WebSocketConnector{URL: cfg.Channel.Address}, nil
	default:
		return nil, fmt.Errorf("%w: transport %q", ErrInvalidConfiguration, cfg.Channel.Transport)
	}
}

// observeConnect reports every failed connect once and notes successful
// starts for the restart window.
func (m *Manager) observeConnect(c channel.Connector) channel.Connector {
	return channel.ConnectorFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, err := c.Connect(ctx)
		if err != nil {
			m.setLastError(err)
			data := map[string]any{"error": err.Error()}
			var spawnErr *process.SpawnError
			if errors.As(err, &spawnErr) {
				data["path"] = spawnErr.Path
			}
			m.publishEvent(Topics.EngineSpawnFailed, data)
			return nil, err
		}

		m.mu.Lock()
		m.lastStart = m.clock.Now()
		m.mu.Unlock()
		return conn, nil
	})
}

// Start connects to the engine now instead of on the first request. With
// respawn enabled a failing start is retried with backoff.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.cfg.Engine.Respawn {
		return m.channel.Connect(ctx)
	}

	return RetryFunc(ctx, RetryConfig{
		MaxAttempts:       m.cfg.Engine.MaxRestarts + 1,
		InitialDelay:      m.cfg.Engine.InitialBackoff.Duration,
		MaxDelay:          m.cfg.Engine.MaxBackoff.Duration,
		BackoffMultiplier: backoffMultiplier,
		RetryableErrors: func(err error) bool {
			return !errors.Is(err, channel.ErrClosed)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			m.logger.Warn("engine start failed, retrying", "attempt", attempt, "delay", delay, "err", err)
			m.publishEvent(Topics.EngineRestarting, map[string]any{
				"attempt": attempt,
				"delay":   delay.String(),
			})
		},
	}, func() error {
		return m.channel.Connect(ctx)
	})
}

// Request sends a request without waiting for the response.
func (m *Manager) Request(ctx context.Context, typ string, params any, transform channel.Transform) (*channel.Pending, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	return m.channel.Send(ctx, typ, params, transform)
}

// Call sends a request and decodes the response payload into out.
func (m *Manager) Call(ctx context.Context, typ string, params any, out any) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return m.channel.Call(ctx, typ, params, out)
}

// NewTerminal creates a pseudo-terminal running the engine on a supervisor
// of its own, so it never competes with the request channel for the
// engine's streams. Unset options are filled from the configuration.
func (m *Manager) NewTerminal(opts terminal.Options) (*terminal.Pseudoterminal, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	if opts.Command == "" {
		cmd := m.cfg.Engine.Command()
		opts.Command, opts.Args, opts.Dir, opts.Env = cmd.Path, cmd.Args, cmd.Dir, cmd.Env
	}
	if opts.QuietPeriod == 0 {
		opts.QuietPeriod = m.cfg.Terminal.QuietPeriod.Duration
	}
	if opts.SoftCloseTimeout == 0 {
		opts.SoftCloseTimeout = m.cfg.Terminal.SoftCloseTimeout.Duration
	}
	if opts.ShowCommand == nil {
		opts.ShowCommand = terminal.Bool(m.cfg.Terminal.ShowCommand)
	}
	if opts.ShowDefaultError == nil {
		opts.ShowDefaultError = terminal.Bool(m.cfg.Terminal.ShowDefaultError)
	}
	if opts.Clock == nil {
		opts.Clock = m.clock
	}
	if opts.Logger == nil {
		opts.Logger = m.logger
	}

	sup := process.NewSupervisor(
		process.WithLogger(m.logger.WithPrefix("terminal-process")),
		process.WithBufferSize(terminalEventBuffer),
	)
	m.mu.Lock()
	m.terminals = append(m.terminals, sup)
	m.mu.Unlock()

	return terminal.New(sup, opts), nil
}

// watchEngine turns supervisor events into bus events.
func (m *Manager) watchEngine(events <-chan process.Event) {
	defer close(m.watchDone)

	for ev := range events {
		switch ev.Kind {
		case process.EventSpawned:
			m.mu.Lock()
			m.generation = ev.Generation
			m.mu.Unlock()
			m.publishEvent(Topics.EngineSpawned, map[string]any{"generation": ev.Generation})
		case process.EventClosed:
			data := map[string]any{
				"generation": ev.Generation,
				"status":     ev.Status.String(),
			}
			if ev.Status.Code != nil {
				data["exit_code"] = *ev.Status.Code
			}
			m.publishEvent(Topics.EngineClosed, data)
		case process.EventErrored:
			m.setLastError(ev.Err)
		}
	}
}

// handleUnsolicited routes envelopes that answer no request.
func (m *Manager) handleUnsolicited(env json.RawMessage) {
	r := gjson.ParseBytes(env)

	switch {
	case r.Get("id.value").Exists() && r.Get("fraction").Exists():
		var ev progress.Event
		if err := json.Unmarshal(env, &ev); err != nil {
			m.logger.Warn("dropping malformed progress event", "err", err)
			return
		}
		m.progress.HandleProgress(ev)

	case r.Get("type").String() == "log":
		m.engineLog(r)

	default:
		m.logger.Debug("unhandled engine message", "envelope", string(env))
	}
}

func (m *Manager) engineLog(r gjson.Result) {
	logger := m.logger.WithPrefix("engine")
	msg := r.Get("message").String()

	switch r.Get("level").String() {
	case "error":
		logger.Error(msg)
	case "warn", "warning":
		logger.Warn(msg)
	case "debug":
		logger.Debug(msg)
	default:
		logger.Info(msg)
	}
}

// handleReset runs after the channel lost its connection.
func (m *Manager) handleReset(cause error) {
	m.progress.Clear()
	m.setLastError(cause)

	data := map[string]any{}
	if cause != nil {
		data["error"] = cause.Error()
	}
	m.publishEvent(Topics.ChannelReset, data)

	if m.closed.Load() || !m.cfg.Engine.Respawn {
		return
	}
	m.scheduleRestart(cause)
}

// scheduleRestart arms the next eager reconnect, or gives up once the
// restart budget is spent.
func (m *Manager) scheduleRestart(cause error) {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return
	}

	if !m.lastStart.IsZero() && m.clock.Now().Sub(m.lastStart) > restartResetWindow {
		m.restarts = 0
	}
	m.restarts++
	attempt := m.restarts

	if attempt > m.cfg.Engine.MaxRestarts {
		m.failed = true
		m.lastErr = fmt.Errorf("%w: %w", ErrRestartsExhausted, cause)
		m.mu.Unlock()

		m.logger.Error("engine keeps failing, giving up", "attempts", attempt-1, "err", cause)
		m.publishEvent(Topics.EngineFailed, map[string]any{
			"attempts": attempt - 1,
			"error":    fmt.Sprint(cause),
		})
		return
	}

	delay := CalculateBackoff(attempt, m.cfg.Engine.InitialBackoff.Duration, m.cfg.Engine.MaxBackoff.Duration, backoffMultiplier)
	m.restartTimer = m.clock.AfterFunc(delay, m.restart)
	m.mu.Unlock()

	m.logger.Warn("restarting engine", "attempt", attempt, "delay", delay)
	m.publishEvent(Topics.EngineRestarting, map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
	})
}

func (m *Manager) restart() {
	if m.closed.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restartConnectTimeout)
	defer cancel()

	if err := m.channel.Connect(ctx); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return
		}
		m.scheduleRestart(err)
		return
	}

	m.mu.Lock()
	m.failed = false
	m.mu.Unlock()
	m.logger.Info("engine restarted")
}

func (m *Manager) progressCancelled() {
	m.publishEvent(Topics.ProgressCancel, nil)
	if m.onCancel != nil {
		m.onCancel()
	}
}

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Progress returns the progress aggregator.
func (m *Manager) Progress() *progress.Aggregator {
	return m.progress
}

// Supervisor returns the supervisor of the channel's engine process.
func (m *Manager) Supervisor() *process.Supervisor {
	return m.supervisor
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Done returns a channel that is closed when shutdown begins.
func (m *Manager) Done() <-chan struct{} {
	return m.shutdown
}

// IsClosed returns true if the manager has been closed.
func (m *Manager) IsClosed() bool {
	return m.closed.Load()
}

// Close disposes the channel, failing pending requests, and stops every
// engine process the manager started. It is safe to call Close multiple
// times.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.shutdown)

	m.mu.Lock()
	if m.restartTimer != nil {
		m.restartTimer.Stop()
	}
	terminals := m.terminals
	m.mu.Unlock()

	errs := []error{m.channel.Dispose()}
	m.progress.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	errs = append(errs, m.supervisor.Shutdown(ctx))
	for _, sup := range terminals {
		errs = append(errs, sup.Shutdown(ctx))
	}
	<-m.watchDone
	m.unsubscribe()

	m.publishEvent(Topics.ManagerStopped, map[string]any{
		"uptime": m.clock.Now().Sub(m.startTime).String(),
	})

	return errors.Join(errs...)
}

// publishEvent publishes an event if an event bus is configured. The data
// map is copied and stamped with the event name and publish time.
func (m *Manager) publishEvent(eventType string, data map[string]any) {
	if m.eventBus == nil {
		return
	}

	eventData := make(map[string]any, len(data)+2)
	for k, v := range data {
		eventData[k] = v
	}
	eventData["event"] = eventType
	eventData["timestamp"] = m.clock.Now().UnixMilli()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event publisher panicked", "event", eventType, "panic", r)
		}
	}()
	m.eventBus.Publish(eventType, eventData)
}
