package handler

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"agent-stream-relay/internal/relay"
)

// streamSink writes relayed frames to an Echo response, flushing after each
// one so the client sees it immediately.
type streamSink struct {
	mu     sync.Mutex
	res    *echo.Response
	rc     *http.ResponseController
	closed bool
}

func newStreamSink(res *echo.Response) *streamSink {
	return &streamSink{
		res: res,
		rc:  http.NewResponseController(res.Writer),
	}
}

func (s *streamSink) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relay.ErrSinkClosed
	}
	if _, err := s.res.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Close marks the sink done. The connection itself is finished by the
// server once the handler returns.
func (s *streamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relay.ErrSinkClosed
	}
	s.closed = true
	return nil
}

func (s *streamSink) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rc.Flush()
}
