package channel

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxFrameSize bounds how much unterminated input is buffered.
const DefaultMaxFrameSize = 16 << 20

// frameBuffer splits the inbound byte stream into newline-delimited JSON
// values. Each complete line is decoded on its own; a line that fails to
// parse is reported and dropped. Bytes after the last newline are kept until
// the rest of the line arrives.
type frameBuffer struct {
	buf []byte
	max int

	// scanned is how much of buf is already known to hold no newline.
	scanned int
	// discarding drops input through the next newline after an oversized line.
	discarding bool
}

// feed appends chunk and returns every complete value now available,
// along with protocol errors for malformed input.
func (f *frameBuffer) feed(chunk []byte) (frames []json.RawMessage, errs []error) {
	if f.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, nil
		}
		f.discarding = false
		chunk = chunk[i+1:]
	}
	f.buf = append(f.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(f.buf[start+f.scanned:], '\n')
		if i < 0 {
			break
		}
		end := start + f.scanned + i
		if frame, err := decodeLine(f.buf[start:end]); err != nil {
			errs = append(errs, err)
		} else if frame != nil {
			frames = append(frames, frame)
		}
		start = end + 1
		f.scanned = 0
	}
	f.compact(start)

	if frame := f.completeTail(); frame != nil {
		frames = append(frames, frame)
		f.reset()
		return frames, errs
	}
	if f.max > 0 && len(f.buf) > f.max {
		errs = append(errs, newProtocolError(f.buf, ErrFrameTooLarge))
		f.reset()
		f.discarding = true
	}
	return frames, errs
}

// decodeLine returns the JSON value held by one line, nil for a blank line,
// or a protocol error.
func decodeLine(line []byte) (json.RawMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, newProtocolError(line, err)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// completeTail reports the unterminated remainder as a frame when it already
// holds a whole object or array. Only a remainder ending in a closing bracket
// is parsed, so a large value arriving in pieces is not rescanned per chunk.
func (f *frameBuffer) completeTail() json.RawMessage {
	tail := bytes.TrimSpace(f.buf)
	if len(tail) == 0 {
		f.reset()
		return nil
	}
	if last := tail[len(tail)-1]; last != '}' && last != ']' {
		return nil
	}
	if !json.Valid(tail) {
		return nil
	}
	return append(json.RawMessage(nil), tail...)
}

// compact drops the first n consumed bytes and remembers that the rest has
// been searched for newlines.
func (f *frameBuffer) compact(n int) {
	if n > 0 {
		f.buf = append(f.buf[:0], f.buf[n:]...)
	}
	f.scanned = len(f.buf)
}

func (f *frameBuffer) reset() {
	f.buf = f.buf[:0]
	f.scanned = 0
}

// pending returns the number of buffered bytes.
func (f *frameBuffer) pending() int {
	return len(f.buf)
}
