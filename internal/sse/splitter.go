// Package sse reframes an incrementally delivered event stream into
// complete "\n\n"-terminated frames.
//
// Frame payloads are never interpreted: a frame is whatever the upstream put
// between two delimiters. Segments that are empty after trimming whitespace
// carry no information and are dropped.
package sse

import (
	"bytes"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
var Delimiter = []byte("\n\n")

// ErrFrameTooLarge is returned when the retained partial frame grows past the
// configured cap without a delimiter being observed.
var ErrFrameTooLarge = errors.New("sse: partial frame exceeds size limit")

// Splitter is an incremental delimiter scanner. It owns the accumulation
// buffer for one stream: after every Feed the buffer holds exactly the bytes
// received so far that have not been emitted as part of a complete frame.
//
// A Splitter is not safe for concurrent use.
type Splitter struct {
	buf []byte
	// scanned is how far buf has been searched without finding a delimiter.
	scanned  int
	maxFrame int
}

// NewSplitter returns a Splitter. maxFrame bounds the retained partial frame in
// bytes; zero or negative disables the bound.
func NewSplitter(maxFrame int) *Splitter {
	return &Splitter{maxFrame: maxFrame}
}

// Feed appends p to the buffer and returns every frame completed by it, in
// order, each terminated by exactly one Delimiter. The trailing fragment is
// retained for the next call even when it is empty.
func (s *Splitter) Feed(p []byte) ([][]byte, error) {
	s.buf = append(s.buf, p...)

	var frames [][]byte
	start := 0
	// A delimiter may straddle the previous scan boundary, so back up one byte.
	from := max(s.scanned-1, 0)
	for {
		i := bytes.Index(s.buf[from:], Delimiter)
		if i < 0 {
			break
		}
		end := from + i
		if frame := terminate(s.buf[start:end]); frame != nil {
			frames = append(frames, frame)
		}
		start = end + len(Delimiter)
		from = start
	}

	if start > 0 {
		s.buf = append(s.buf[:0], s.buf[start:]...)
	}
	s.scanned = len(s.buf)

	if s.maxFrame > 0 && len(s.buf) > s.maxFrame {
		return frames, fmt.Errorf("%w: %d bytes buffered, limit %d", ErrFrameTooLarge, len(s.buf), s.maxFrame)
	}
	return frames, nil
}

// Flush returns the buffered remainder as a final frame when it holds anything
// besides whitespace, and resets the buffer. Trailing newlines are normalized
// so the frame ends in exactly one Delimiter. Flushing an empty buffer yields
// nothing.
func (s *Splitter) Flush() ([]byte, bool) {
	rest := bytes.TrimRight(s.buf, "\n")
	frame := terminate(rest)
	s.Reset()
	return frame, frame != nil
}

// Buffered reports the size of the retained partial frame.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset discards any buffered bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
	s.scanned = 0
}

// terminate copies segment and appends the delimiter, or returns nil when the
// segment is blank.
func terminate(segment []byte) []byte {
	if len(bytes.TrimSpace(segment)) == 0 {
		return nil
	}
	frame := make([]byte, 0, len(segment)+len(Delimiter))
	frame = append(frame, segment...)
	return append(frame, Delimiter...)
}
