package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"
)

const readBufferSize = 64 * 1024

// Connector opens a connection to the engine.
type Connector interface {
	Connect(ctx context.Context) (io.ReadWriteCloser, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// UnsolicitedHandler receives envelopes that answer no pending request.
type UnsolicitedHandler func(envelope json.RawMessage)

// Channel correlates requests and responses over one engine connection.
//
// Channel is safe for concurrent use.
type Channel struct {
	connector Connector
	logger    *log.Logger

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	pending map[int64]*Pending

	// writeMu keeps envelopes from interleaving on the wire.
	writeMu sync.Mutex

	nextID  atomic.Int64
	closed  atomic.Bool
	connect singleflight.Group

	unsolicited  UnsolicitedHandler
	onReset      func(cause error)
	maxFrameSize int
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUnsolicited sets the handler for unsolicited envelopes. Without one
// they are dropped.
func WithUnsolicited(fn UnsolicitedHandler) Option {
	return func(c *Channel) {
		c.unsolicited = fn
	}
}

// WithOnReset registers a hook that runs after a lost connection failed
// the pending requests.
func WithOnReset(fn func(cause error)) Option {
	return func(c *Channel) {
		c.onReset = fn
	}
}

// WithMaxFrameSize bounds buffered partial input. Zero disables the limit.
func WithMaxFrameSize(n int) Option {
	return func(c *Channel) {
		c.maxFrameSize = n
	}
}

// New creates a channel that connects through connector on first use.
func New(connector Connector, opts ...Option) *Channel {
	c := &Channel{
		connector:    connector,
		logger:       log.New(io.Discard),
		pending:      make(map[int64]*Pending),
		maxFrameSize: DefaultMaxFrameSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send writes a request and returns its Pending handle without waiting for
// the response. Cancelling ctx before the response arrives resolves the
// request with ErrCancelled.
func (c *Channel) Send(ctx context.Context, typ string, params any, transform Transform) (*Pending, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	req := Request{Type: typ, Params: params, ID: c.nextID.Add(1)}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	p := newPending(req, transform)

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil, ErrProcessExited
	}
	c.pending[req.ID] = p
	c.mu.Unlock()

	p.setStop(context.AfterFunc(ctx, func() {
		c.cancel(req.ID, context.Cause(ctx))
	}))

	c.writeMu.Lock()
	_, err = conn.Write(data)
	c.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("write request: %w", err)
		if p := c.take(req.ID); p != nil {
			p.resolve(nil, err)
		}
		recordFailed(ctx, typ)
		return nil, err
	}

	recordSent(ctx, typ)
	c.logger.Debug("request sent", "id", req.ID, "type", typ)
	return p, nil
}

// Call sends a request, waits for it and decodes the response payload into
// out. A nil out discards the payload.
func (c *Channel) Call(ctx context.Context, typ string, params any, out any) error {
	p, err := c.Send(ctx, typ, params, nil)
	if err != nil {
		return err
	}

	v, err := p.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// The cancellation hook resolves the request shortly after ctx ends,
		// unless a response won the race.
		<-p.Done()
		v, err = p.Result()
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		return fmt.Errorf("unexpected result type %T", v)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", typ, err)
	}
	return nil
}

// CallAs sends a request and decodes the response payload as T.
func CallAs[T any](ctx context.Context, c *Channel, typ string, params any) (T, error) {
	var out T
	err := c.Call(ctx, typ, params, &out)
	return out, err
}

// PendingIDs returns the ids of unresolved requests in ascending order.
func (c *Channel) PendingIDs() []int64 {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connected reports whether a connection is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the connection if it is not open yet.
func (c *Channel) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.connection(ctx)
	return err
}

// Dispose fails every pending request with ErrProcessExited, closes the
// connection and refuses further sends.
func (c *Channel) Dispose() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Debug("channel disposed")
	return c.reset(nil, ErrClosed)
}

func (c *Channel) connection(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	v, err, _ := c.connect.Do("connect", func() (any, error) {
		c.mu.Lock()
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		ctx, span := startConnectSpan(ctx)
		defer span.End()

		start := time.Now()
		conn, err := c.connector.Connect(ctx)
		recordConnect(ctx, time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			c.logger.Error("connect failed", "err", err)
			return nil, &ConnectError{Err: err}
		}

		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, ErrClosed
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("connected to engine")
		go c.readLoop(conn)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(io.ReadWriteCloser), nil
}

// readLoop feeds inbound chunks to the framer until the connection ends.
func (c *Channel) readLoop(conn io.ReadWriteCloser) {
	frames := frameBuffer{max: c.maxFrameSize}
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			envelopes, errs := frames.feed(buf[:n])
			for _, perr := range errs {
				recordProtocolError(context.Background())
				c.logger.Warn("dropping malformed input", "err", perr)
			}
			for _, env := range envelopes {
				c.dispatch(env)
			}
		}
		if err != nil {
			if frames.pending() > 0 {
				c.logger.Warn("connection ended mid-envelope", "bytes", frames.pending())
			}
			c.connectionLost(conn, err)
			return
		}
	}
}

// dispatch routes one inbound envelope.
func (c *Channel) dispatch(env json.RawMessage) {
	result := gjson.ParseBytes(env)
	if !result.IsObject() {
		recordProtocolError(context.Background())
		c.logger.Warn("dropping non-object envelope", "err", newProtocolError(env, errors.New("envelope is not an object")))
		return
	}

	if id, ok := requestID(result.Get("id")); ok {
		if p := c.take(id); p != nil {
			payload, err := sjson.DeleteBytes(env, "id")
			if err != nil {
				p.resolve(nil, newProtocolError(env, err))
				return
			}
			p.complete(payload)
			recordResponse(context.Background(), p.Type(), time.Since(p.Created()))
			return
		}
		c.logger.Debug("dropping response for unknown request", "id", id)
	}

	if c.unsolicited != nil {
		c.unsolicited(env)
	}
}

// requestID extracts a positive integer id.
func requestID(v gjson.Result) (int64, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	if v.Num != math.Trunc(v.Num) || v.Num < 1 {
		return 0, false
	}
	return v.Int(), true
}

// take removes and returns a pending request.
func (c *Channel) take(id int64) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

func (c *Channel) cancel(id int64, cause error) {
	p := c.take(id)
	if p == nil {
		return
	}
	if cause == nil {
		cause = context.Canceled
	}
	p.resolve(nil, fmt.Errorf("%w: %w", ErrCancelled, cause))
	recordCancelled(context.Background(), p.Type())
	c.logger.Debug("request cancelled", "id", id, "type", p.Type())
}

// connectionLost tears down after conn's read side ended. A stale loop of
// an already replaced connection does nothing.
func (c *Channel) connectionLost(conn io.ReadWriteCloser, err error) {
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()
	if !current {
		return
	}

	if errors.Is(err, io.EOF) {
		c.logger.Info("engine connection closed")
	} else {
		c.logger.Warn("engine connection lost", "err", err)
	}
	_ = c.reset(conn, err)
}

// reset drops the connection (when it is still conn, or any connection
// when conn is nil) and fails every pending request.
func (c *Channel) reset(conn io.ReadWriteCloser, cause error) error {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return nil
	}
	old := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int64]*Pending)
	c.mu.Unlock()

	var closeErr error
	if old != nil {
		closeErr = old.Close()
	}

	exitErr := ErrProcessExited
	if cause != nil && !errors.Is(cause, io.EOF) {
		exitErr = fmt.Errorf("%w: %w", ErrProcessExited, cause)
	}
	for _, p := range pending {
		p.resolve(nil, exitErr)
		recordFailed(context.Background(), p.Type())
	}

	if len(pending) > 0 {
		c.logger.Warn("failed pending requests", "count", len(pending), "err", exitErr)
	}
	if conn != nil && c.onReset != nil {
		c.onReset(cause)
	}
	return closeErr
}
