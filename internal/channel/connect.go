package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"github.com/dshills/enginebridge/internal/integration/process"
)

// ProcessConnector spawns the engine through a supervisor and talks to it
// over its standard input and output. Each Connect starts a new process
// generation; closing the connection terminates it.
type ProcessConnector struct {
	Supervisor *process.Supervisor
	Command    process.Command
	Logger     *log.Logger
}

// Connect attaches to the supervisor and spawns the engine.
func (pc *ProcessConnector) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	logger := pc.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	release, err := pc.Supervisor.Attach("channel")
	if err != nil {
		return nil, err
	}
	events, unsubscribe := pc.Supervisor.Subscribe()

	proc, err := pc.Supervisor.Spawn(ctx, pc.Command)
	if err != nil {
		unsubscribe()
		release()
		return nil, err
	}

	pr, pw := io.Pipe()
	go forwardOutput(events, proc.ID, pw, logger)

	return &processConn{
		sup:         pc.Supervisor,
		proc:        proc,
		reader:      pr,
		unsubscribe: unsubscribe,
		release:     release,
	}, nil
}

// forwardOutput copies the generation's stdout into pw and ends the stream
// when the process closes.
func forwardOutput(events <-chan process.Event, generation string, pw *io.PipeWriter, logger *log.Logger) {
	for ev := range events {
		if ev.Generation != generation {
			continue
		}
		switch ev.Kind {
		case process.EventOutput:
			if ev.Stream == process.Stderr {
				logger.Debug("engine stderr", "text", string(ev.Data))
				continue
			}
			// A closed reader means the channel let go; keep draining.
			_, _ = pw.Write(ev.Data)
		case process.EventErrored:
			logger.Warn("engine stream error", "err", ev.Err)
		case process.EventClosed:
			_ = pw.CloseWithError(fmt.Errorf("%w (%s)", ErrProcessExited, ev.Status))
			return
		}
	}
	_ = pw.CloseWithError(io.EOF)
}

type processConn struct {
	sup         *process.Supervisor
	proc        *process.Process
	reader      *io.PipeReader
	unsubscribe func()
	release     func()
	closeOnce   sync.Once
}

func (c *processConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *processConn) Write(p []byte) (int, error) {
	return c.proc.Write(p)
}

func (c *processConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sup.Current() == c.proc {
			err = c.sup.Terminate(nil)
		}
		_ = c.reader.Close()
		c.unsubscribe()
		c.release()
	})
	return err
}

// DialConnector connects to an engine listening on a socket.
type DialConnector struct {
	// Network is "tcp" or "unix".
	Network string
	Address string
	Dialer  net.Dialer
}

// Connect dials the engine.
func (dc *DialConnector) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	conn, err := dc.Dialer.DialContext(ctx, dc.Network, dc.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", dc.Network, dc.Address, err)
	}
	return conn, nil
}

// WebSocketConnector connects to an engine served over a websocket. Each
// envelope travels as one text message.
type WebSocketConnector struct {
	URL     string
	Options *websocket.DialOptions
}

// Connect opens the websocket.
func (wc *WebSocketConnector) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	ws, _, err := websocket.Dial(ctx, wc.URL, wc.Options)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wc.URL, err)
	}
	ws.SetReadLimit(DefaultMaxFrameSize)

	// The net.Conn lives until Close, not until the dial context ends.
	connCtx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		Conn:   websocket.NetConn(connCtx, ws, websocket.MessageText),
		cancel: cancel,
	}, nil
}

type wsConn struct {
	net.Conn
	cancel context.CancelFunc
}

func (c *wsConn) Close() error {
	err := c.Conn.Close()
	c.cancel()
	return err
}
