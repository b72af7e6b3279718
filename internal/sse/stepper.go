package sse

import (
	"context"
	"errors"
	"io"
)

// maxEmptyReads mirrors bufio's guard against readers that return 0, nil forever.
const maxEmptyReads = 100

// Stepper drives a Splitter from an upstream reader, one Step at a time.
//
// The upstream is read only when every frame completed by earlier chunks has
// been handed out, so a caller that forwards each frame before asking for the
// next one never has more than one chunk in flight.
type Stepper struct {
	src      io.Reader
	splitter *Splitter
	chunk    []byte
	pending  [][]byte
	terminal *Step
}

// NewStepper returns a Stepper reading src in chunks of at most readBuffer
// bytes. maxFrame is passed to the Splitter.
func NewStepper(src io.Reader, readBuffer, maxFrame int) *Stepper {
	if readBuffer <= 0 {
		readBuffer = 32 * 1024
	}
	return &Stepper{
		src:      src,
		splitter: NewSplitter(maxFrame),
		chunk:    make([]byte, readBuffer),
	}
}

// Next returns the next step. Once StepEnd or StepError has been returned,
// every later call returns the same step without touching the reader.
//
// Frames completed before an upstream failure are still returned ahead of the
// StepError; a partial frame pending at that point is discarded.
func (s *Stepper) Next(ctx context.Context) Step {
	empty := 0
	for {
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			return Step{Kind: StepFrame, Frame: frame}
		}
		if s.terminal != nil {
			return *s.terminal
		}
		if err := ctx.Err(); err != nil {
			s.fail(err)
			continue
		}

		n, err := s.src.Read(s.chunk)
		if n > 0 {
			empty = 0
			frames, ferr := s.splitter.Feed(s.chunk[:n])
			s.pending = append(s.pending, frames...)
			if ferr != nil {
				s.fail(ferr)
				continue
			}
		}

		switch {
		case err == nil:
			if n == 0 {
				empty++
				if empty >= maxEmptyReads {
					s.fail(io.ErrNoProgress)
				}
			}
		case errors.Is(err, io.EOF):
			if frame, ok := s.splitter.Flush(); ok {
				s.pending = append(s.pending, frame)
			}
			s.terminal = &Step{Kind: StepEnd}
		default:
			s.fail(err)
		}
	}
}

// Buffered reports the size of the retained partial frame.
func (s *Stepper) Buffered() int {
	return s.splitter.Buffered()
}

func (s *Stepper) fail(err error) {
	s.splitter.Reset()
	s.terminal = &Step{Kind: StepError, Err: err}
}
