package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Transform turns a response payload (the envelope minus its id) into the
// value delivered to the caller.
type Transform func(payload json.RawMessage) (any, error)

// Request is the outbound envelope.
type Request struct {
	Type   string `json:"type"`
	Params any    `json:"params"`
	ID     int64  `json:"id"`
}

// Pending is an in-flight request. It resolves exactly once: with the
// transformed response, with ErrCancelled, or with ErrProcessExited.
type Pending struct {
	request   Request
	transform Transform
	created   time.Time

	done  chan struct{}
	once  sync.Once
	value any
	err   error

	mu       sync.Mutex
	resolved bool
	stop     func() bool
}

func newPending(req Request, transform Transform) *Pending {
	return &Pending{
		request:   req,
		transform: transform,
		created:   time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the request id.
func (p *Pending) ID() int64 {
	return p.request.ID
}

// Type returns the request type.
func (p *Pending) Type() string {
	return p.request.Type
}

// Created returns when the request was sent.
func (p *Pending) Created() time.Time {
	return p.created
}

// Done is closed once the request resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Result() (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request resolves or ctx is done. Giving up on the
// wait does not cancel the request; cancel the context passed to Send.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// setStop records the cancellation hook, releasing it at once if the
// request already resolved.
func (p *Pending) setStop(stop func() bool) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		stop()
		return
	}
	p.stop = stop
	p.mu.Unlock()
}

// complete applies the transform to payload and resolves the request.
func (p *Pending) complete(payload json.RawMessage) bool {
	if p.transform == nil {
		return p.resolve(payload, nil)
	}
	v, err := p.transform(payload)
	return p.resolve(v, err)
}

// resolve settles the request. Only the first call has any effect.
func (p *Pending) resolve(value any, err error) bool {
	first := false
	p.once.Do(func() {
		first = true

		p.mu.Lock()
		p.resolved = true
		stop := p.stop
		p.stop = nil
		p.mu.Unlock()

		if stop != nil {
			stop()
		}

		p.value, p.err = value, err
		close(p.done)
	})
	return first
}
