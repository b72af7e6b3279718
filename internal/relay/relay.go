// Package relay forwards an upstream event stream to a downstream sink frame
// by frame.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"agent-stream-relay/internal/config"
	"agent-stream-relay/internal/metrics"
	"agent-stream-relay/internal/sse"
)

// ErrorMessage is the "error" field of the synthetic frame written when the
// upstream stream fails after streaming has begun.
const ErrorMessage = "Error in agent"

// ErrSinkClosed is returned by sinks written to after Close.
var ErrSinkClosed = errors.New("relay: sink closed")

// Sink is the downstream side of one relayed stream. Write receives exactly
// one complete frame per call and must not return before the frame has been
// handed to the consumer. Close is called exactly once by Run.
type Sink interface {
	Write(frame []byte) error
	Close() error
}

// Outcome classifies how a relayed stream ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeFrameTooLarge Outcome = "frame_too_large"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeClientGone    Outcome = "client_gone"
	OutcomeInternalError Outcome = "internal_error"
)

// Result summarizes one Run.
type Result struct {
	Outcome Outcome
	// Frames and Bytes count what was written downstream, error frame included.
	Frames   int
	Bytes    int64
	Duration time.Duration
	// Err is the cause for any outcome other than OutcomeCompleted.
	Err error
}

// Relay moves frames from an upstream reader to a Sink. A Relay holds no
// per-stream state and may serve any number of concurrent Runs.
type Relay struct {
	readBuffer int
	maxFrame   int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a Relay. The metrics parameter is optional; pass nil to disable
// stream metrics.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		readBuffer: cfg.Relay.ReadBufferBytes,
		maxFrame:   cfg.Relay.MaxFrameBytes,
		logger:     logger.With("component", "relay"),
		metrics:    m,
	}
}

// Run reads src until it ends or fails and writes every complete frame to dst
// in arrival order, one Write per frame. src is read again only after the
// frames derived from the previous chunk were written.
//
// If src fails, one error frame is written before dst is closed. If dst fails
// or ctx is canceled, Run stops reading src immediately; closing src is left
// to its owner. dst.Close is called exactly once on every path.
func (r *Relay) Run(ctx context.Context, src io.Reader, dst Sink) (res Result) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.StreamsActive.Inc()
		defer r.metrics.StreamsActive.Dec()
	}

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeInternalError
			res.Err = fmt.Errorf("relay panic: %v", p)
		}
		if err := dst.Close(); err != nil {
			r.logger.Debug("closing sink", "err", err)
		}
		res.Duration = time.Since(start)
		r.observe(res)
	}()

	st := sse.NewStepper(src, r.readBuffer, r.maxFrame)
	for {
		step := st.Next(ctx)
		switch step.Kind {
		case sse.StepFrame:
			if err := dst.Write(step.Frame); err != nil {
				res.Outcome = OutcomeClientGone
				res.Err = fmt.Errorf("write frame: %w", err)
				return res
			}
			res.Frames++
			res.Bytes += int64(len(step.Frame))
		case sse.StepEnd:
			res.Outcome = OutcomeCompleted
			return res
		case sse.StepError:
			return r.fail(ctx, dst, step.Err, res)
		default:
			panic(fmt.Sprintf("unknown step kind %v", step.Kind))
		}
	}
}

// fail writes the in-band error frame for a mid-stream failure. Nothing is
// written when the downstream consumer is already gone.
func (r *Relay) fail(ctx context.Context, dst Sink, cause error, res Result) Result {
	res.Err = cause

	details := cause.Error()
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		res.Outcome = OutcomeClientGone
		return res
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		details = "stream exceeded maximum duration"
	case errors.Is(cause, sse.ErrFrameTooLarge):
		res.Outcome = OutcomeFrameTooLarge
	default:
		res.Outcome = OutcomeUpstreamError
	}

	frame := sse.ErrorFrame(ErrorMessage, details)
	if err := dst.Write(frame); err != nil {
		r.logger.Debug("writing error frame", "err", err)
		return res
	}
	res.Frames++
	res.Bytes += int64(len(frame))
	return res
}

func (r *Relay) observe(res Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.StreamsTotal.WithLabelValues(string(res.Outcome)).Inc()
	r.metrics.StreamDuration.Observe(res.Duration.Seconds())
	r.metrics.FramesRelayed.Add(float64(res.Frames))
	r.metrics.BytesRelayed.Add(float64(res.Bytes))
}
