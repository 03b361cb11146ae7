package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the channel package.
var (
	// ErrProcessExited resolves requests still pending when the engine's
	// connection ends.
	ErrProcessExited = errors.New("engine process exited")

	// ErrCancelled resolves a request whose context was cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrClosed is returned by Send after Dispose.
	ErrClosed = errors.New("channel disposed")

	// ErrFrameTooLarge is reported when a partial envelope outgrows the
	// buffer limit.
	ErrFrameTooLarge = errors.New("envelope exceeds buffer limit")
)

// ConnectError reports that the channel could not reach the engine. The
// request that triggered the connect was not sent.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to engine: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolError reports inbound data that is not a valid envelope. The
// data is dropped and the channel keeps running.
type ProtocolError struct {
	// Fragment is a prefix of the offending data.
	Fragment string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v (near %q)", e.Err, e.Fragment)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

const maxFragment = 64

func newProtocolError(data []byte, err error) *ProtocolError {
	if len(data) > maxFragment {
		data = data[:maxFragment]
	}
	return &ProtocolError{Fragment: string(data), Err: err}
}
