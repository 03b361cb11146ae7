package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/enginebridge/internal/channel"
	"github.com/dshills/enginebridge/internal/config"
	"github.com/dshills/enginebridge/internal/integration/process"
	"github.com/dshills/enginebridge/internal/integration/terminal"
	"github.com/dshills/enginebridge/internal/progress"
)

const (
	helperEnv     = "ENGINEBRIDGE_HELPER_ENGINE"
	helperModeEnv = "ENGINEBRIDGE_HELPER_MODE"
	waitFor       = 5 * time.Second
	tick          = 10 * time.Millisecond
)

// TestHelperProcess is not a real test. It is the engine the manager tests
// spawn: the test binary re-executed with helperEnv set.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	if os.Getenv(helperModeEnv) == "terminal" {
		fmt.Println("hello from engine")
		os.Exit(3)
	}

	runHelperEngine(os.Stdin, os.Stdout, os.Exit)
	os.Exit(0)
}

// runHelperEngine answers newline-delimited requests:
//
//	echo      replies with its params
//	progress  reports operation 7 at 50% and done, then replies
//	log       emits a warn log message, then replies
//	exit      exits with params.code without replying
//
// Any other type is never answered.
func runHelperEngine(in io.Reader, out io.Writer, exit func(int)) {
	var mu sync.Mutex
	emit := func(v map[string]any) {
		data, _ := json.Marshal(v)
		mu.Lock()
		_, _ = out.Write(append(data, '\n'))
		mu.Unlock()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			Type   string         `json:"type"`
			Params map[string]any `json:"params"`
			ID     int64          `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		reply := func(v map[string]any) {
			if v == nil {
				v = map[string]any{}
			}
			v["id"] = req.ID
			emit(v)
		}

		switch req.Type {
		case "echo":
			reply(req.Params)
		case "progress":
			emit(map[string]any{"id": map[string]any{"value": 7}, "name": "Building", "fraction": 0.5})
			emit(map[string]any{"id": map[string]any{"value": 7}, "fraction": 1, "done": true})
			reply(map[string]any{"ok": true})
		case "log":
			emit(map[string]any{"type": "log", "level": "warn", "message": "engine warning"})
			emit(map[string]any{"type": "status", "state": "idle"})
			reply(map[string]any{"ok": true})
		case "exit":
			code, _ := req.Params["code"].(float64)
			exit(int(code))
		}
	}
}

func helperConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.Engine.Executable = os.Args[0]
	cfg.Engine.Args = []string{"-test.run=^TestHelperProcess$"}
	cfg.Engine.Env = map[string]string{
		helperEnv:     "1",
		helperModeEnv: mode,
	}
	cfg.Engine.InitialBackoff = config.Dur(10 * time.Millisecond)
	cfg.Engine.MaxBackoff = config.Dur(50 * time.Millisecond)
	return cfg
}

// eventRecorder collects every event the manager publishes.
type eventRecorder struct {
	mu     sync.Mutex
	events []map[string]any
}

func newEventRecorder() (*EventBus, *eventRecorder) {
	bus := NewEventBus(nil)
	rec := &eventRecorder{}
	for _, pattern := range []string{"integration.*", "engine.*", "channel.*", "progress.*"} {
		bus.Subscribe(pattern, func(data map[string]any) {
			rec.mu.Lock()
			rec.events = append(rec.events, data)
			rec.mu.Unlock()
		})
	}
	return bus, rec
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev["event"] == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(name string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i]["event"] == name {
			return r.events[i]
		}
	}
	return nil
}

type recordingIndicator struct {
	mu     sync.Mutex
	shown  []string
	hidden int
}

func (r *recordingIndicator) Show(text string) {
	r.mu.Lock()
	r.shown = append(r.shown, text)
	r.mu.Unlock()
}

func (r *recordingIndicator) Hide() {
	r.mu.Lock()
	r.hidden++
	r.mu.Unlock()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestManager(t *testing.T, cfg *config.Config, opts ...ManagerOption) *Manager {
	t.Helper()
	mgr, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewManager_InvalidConfiguration(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg := helperConfig("")
	cfg.Channel.Transport = "carrier-pigeon"
	_, err = NewManager(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg = helperConfig("")
	cfg.Progress.Mode = "fireworks"
	_, err = NewManager(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestManager_CallRoundTrip(t *testing.T) {
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, helperConfig(""), WithEventBus(bus))

	var out struct {
		Text string `json:"text"`
	}
	require.NoError(t, mgr.Call(testContext(t), "echo", map[string]any{"text": "hi"}, &out))
	assert.Equal(t, "hi", out.Text)

	assert.Eventually(t, func() bool { return rec.count(Topics.EngineSpawned) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.count(Topics.ManagerStarted))

	health := mgr.Health()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.True(t, health.Connected)
	assert.Equal(t, process.StateRunning, health.EngineState)
	assert.NotEmpty(t, health.Generation)
	assert.Zero(t, health.PendingRequests)
}

func TestManager_RequestReturnsPending(t *testing.T) {
	mgr := newTestManager(t, helperConfig(""))
	ctx := testContext(t)

	p, err := mgr.Request(ctx, "echo", map[string]any{"n": 2}, func(payload json.RawMessage) (any, error) {
		var v struct {
			N int `json:"n"`
		}
		err := json.Unmarshal(payload, &v)
		return v.N * 10, err
	})
	require.NoError(t, err)

	v, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestManager_StartConnectsEagerly(t *testing.T) {
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, helperConfig(""), WithEventBus(bus))

	require.NoError(t, mgr.Start(testContext(t)))
	assert.True(t, mgr.Health().Connected)
	assert.Eventually(t, func() bool { return rec.count(Topics.EngineSpawned) == 1 }, waitFor, tick)
}

func TestManager_ProgressRouting(t *testing.T) {
	indicator := &recordingIndicator{}
	mgr := newTestManager(t, helperConfig(""), WithIndicator(indicator))

	require.NoError(t, mgr.Call(testContext(t), "progress", nil, nil))

	indicator.mu.Lock()
	defer indicator.mu.Unlock()
	require.NotEmpty(t, indicator.shown)
	assert.True(t, strings.HasPrefix(indicator.shown[0], "Building 50.0%"), indicator.shown[0])
	assert.True(t, strings.HasPrefix(indicator.shown[len(indicator.shown)-1], "Building 100.0%"))
	assert.Equal(t, 1, indicator.hidden)
	assert.Zero(t, mgr.Progress().Len())
}

func TestManager_EngineLogMessages(t *testing.T) {
	var buf lockedBuffer
	mgr := newTestManager(t, helperConfig(""), WithLogger(log.New(&buf)))

	require.NoError(t, mgr.Call(testContext(t), "log", nil, nil))

	assert.Contains(t, buf.String(), "engine warning")
	assert.NotContains(t, buf.String(), "idle")
}

func TestManager_EngineExitFailsPendingAndRespawns(t *testing.T) {
	cfg := helperConfig("")
	cfg.Engine.Respawn = true
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, cfg, WithEventBus(bus))
	ctx := testContext(t)

	require.NoError(t, mgr.Start(ctx))
	mgr.Progress().StartIndeterminate("Indexing", progress.OperationID{Value: 1})
	require.Equal(t, 1, mgr.Progress().Len())

	err := mgr.Call(ctx, "exit", map[string]any{"code": 3}, nil)
	require.ErrorIs(t, err, channel.ErrProcessExited)
	assert.Contains(t, err.Error(), "exit code 3")
	assert.Eventually(t, func() bool { return mgr.Progress().Len() == 0 }, waitFor, tick)

	assert.Eventually(t, func() bool {
		return rec.count(Topics.EngineSpawned) == 2 && mgr.Health().Connected
	}, waitFor, tick)
	assert.Equal(t, 1, rec.count(Topics.ChannelReset))
	assert.Equal(t, 1, rec.count(Topics.EngineRestarting))
	assert.Equal(t, 3, rec.last(Topics.EngineClosed)["exit_code"])
	assert.Equal(t, 1, mgr.Health().Restarts)

	var out struct {
		Text string `json:"text"`
	}
	require.NoError(t, mgr.Call(ctx, "echo", map[string]any{"text": "again"}, &out))
	assert.Equal(t, "again", out.Text)
}

func TestManager_RestartsExhausted(t *testing.T) {
	cfg := helperConfig("")
	cfg.Engine.Respawn = true
	cfg.Engine.MaxRestarts = 1
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, cfg, WithEventBus(bus))
	ctx := testContext(t)

	require.NoError(t, mgr.Start(ctx))
	require.Error(t, mgr.Call(ctx, "exit", map[string]any{"code": 1}, nil))

	require.Eventually(t, func() bool {
		return rec.count(Topics.EngineSpawned) == 2 && mgr.Health().Connected
	}, waitFor, tick)

	require.Error(t, mgr.Call(ctx, "exit", map[string]any{"code": 1}, nil))

	require.Eventually(t, func() bool { return rec.count(Topics.EngineFailed) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.count(Topics.EngineRestarting))

	health := mgr.Health()
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, StatusUnhealthy, health.Components["engine"].Status)
	assert.Contains(t, health.LastError, ErrRestartsExhausted.Error())
}

func TestManager_WithoutRespawnStartsOnNextRequest(t *testing.T) {
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, helperConfig(""), WithEventBus(bus))
	ctx := testContext(t)

	require.Error(t, mgr.Call(ctx, "exit", map[string]any{"code": 0}, nil))
	assert.Zero(t, rec.count(Topics.EngineRestarting))

	require.NoError(t, mgr.Call(ctx, "echo", nil, nil))
	assert.Eventually(t, func() bool { return rec.count(Topics.EngineSpawned) == 2 }, waitFor, tick)
}

func TestManager_SpawnFailure(t *testing.T) {
	cfg := helperConfig("")
	cfg.Engine.Executable = "/nonexistent/enginebridge-engine"
	bus, rec := newEventRecorder()
	mgr := newTestManager(t, cfg, WithEventBus(bus))
	ctx := testContext(t)

	err := mgr.Call(ctx, "echo", nil, nil)
	var connectErr *channel.ConnectError
	require.ErrorAs(t, err, &connectErr)
	var spawnErr *process.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, cfg.Engine.Executable, spawnErr.Path)

	assert.Equal(t, 1, rec.count(Topics.EngineSpawnFailed))
	assert.Equal(t, cfg.Engine.Executable, rec.last(Topics.EngineSpawnFailed)["path"])

	require.Error(t, mgr.Call(ctx, "echo", nil, nil))
	assert.Equal(t, 2, rec.count(Topics.EngineSpawnFailed))

	health := mgr.Health()
	assert.NotEmpty(t, health.LastError)
	assert.Equal(t, StatusDegraded, health.Components["channel"].Status)
}

func TestManager_TCPTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var wg sync.WaitGroup
	t.Cleanup(wg.Wait)
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		runHelperEngine(conn, conn, func(int) { _ = conn.Close() })
	}()

	cfg := config.Default()
	cfg.Channel.Transport = config.TransportTCP
	cfg.Channel.Address = ln.Addr().String()
	mgr := newTestManager(t, cfg)

	var out struct {
		Text string `json:"text"`
	}
	require.NoError(t, mgr.Call(testContext(t), "echo", map[string]any{"text": "over tcp"}, &out))
	assert.Equal(t, "over tcp", out.Text)
	assert.Equal(t, process.StateNotStarted, mgr.Health().EngineState)
}

func TestManager_WithConnector(t *testing.T) {
	var calls atomic.Int32
	connector := channel.ConnectorFunc(func(context.Context) (io.ReadWriteCloser, error) {
		calls.Add(1)
		return nil, errors.New("engine unavailable")
	})
	mgr := newTestManager(t, helperConfig(""), WithConnector(connector))

	err := mgr.Call(testContext(t), "echo", nil, nil)
	var connectErr *channel.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_ProgressCancel(t *testing.T) {
	cfg := helperConfig("")
	cfg.Progress.Mode = "notification"
	notifier := progress.NewLogNotifier(nil)
	bus, rec := newEventRecorder()

	var cancelled atomic.Int32
	mgr := newTestManager(t, cfg,
		WithEventBus(bus),
		WithNotifier(notifier),
		WithOnCancel(func() { cancelled.Add(1) }),
	)

	mgr.Progress().StartIndeterminate("Compiling", progress.OperationID{Value: 4})
	assert.Equal(t, 1, notifier.CancelAll())

	assert.Equal(t, int32(1), cancelled.Load())
	assert.Equal(t, 1, rec.count(Topics.ProgressCancel))
}

func TestManager_Terminal(t *testing.T) {
	mgr := newTestManager(t, helperConfig("terminal"))

	var buf lockedBuffer
	closed := make(chan *int, 1)
	term, err := mgr.NewTerminal(terminal.Options{
		OnWrite: func(text string) { _, _ = buf.Write([]byte(text)) },
		OnClose: func(code *int) { closed <- code },
	})
	require.NoError(t, err)
	require.NoError(t, term.Open(testContext(t), &terminal.Dimensions{Cols: 80, Rows: 24}))

	select {
	case code := <-closed:
		require.NotNil(t, code)
		assert.Equal(t, 3, *code)
	case <-time.After(waitFor):
		t.Fatal("terminal did not close")
	}
	assert.Contains(t, buf.String(), "hello from engine")
	assert.True(t, term.Closed())
	assert.Equal(t, 1, mgr.Health().Terminals)
}

func TestManager_TerminalOptionOverridesConfig(t *testing.T) {
	cfg := helperConfig("terminal")
	require.True(t, cfg.Terminal.ShowDefaultError)
	mgr := newTestManager(t, cfg)

	closed := make(chan *int, 1)
	term, err := mgr.NewTerminal(terminal.Options{
		ShowDefaultError: terminal.Bool(false),
		OnClose:          func(code *int) { closed <- code },
	})
	require.NoError(t, err)
	require.NoError(t, term.Open(testContext(t), nil))

	select {
	case code := <-closed:
		assert.Nil(t, code)
	case <-time.After(waitFor):
		t.Fatal("terminal did not close")
	}
}

func TestManager_Close(t *testing.T) {
	bus, rec := newEventRecorder()
	mgr, err := NewManager(helperConfig(""), WithEventBus(bus))
	require.NoError(t, err)
	ctx := testContext(t)

	p, err := mgr.Request(ctx, "never-answered", nil, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())

	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, channel.ErrProcessExited)

	select {
	case <-mgr.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	assert.True(t, mgr.IsClosed())
	assert.ErrorIs(t, mgr.Call(ctx, "echo", nil, nil), ErrManagerClosed)
	_, err = mgr.NewTerminal(terminal.Options{})
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.Equal(t, StatusUnhealthy, mgr.Health().Status)
	assert.Equal(t, 1, rec.count(Topics.ManagerStopped))
}
