package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"agent-stream-relay/internal/model"
	"agent-stream-relay/internal/relay"
	"agent-stream-relay/internal/service"
)

// PreStreamError is the "error" field of every pre-stream failure body.
const PreStreamError = "Failed to process /agent request"

// errorBody is the JSON shape of a pre-stream failure.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AgentHandler serves POST /api/agent: one upstream call, then the relayed
// event stream.
type AgentHandler struct {
	service *service.AgentService
	relay   *relay.Relay
	logger  *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(svc *service.AgentService, r *relay.Relay, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		service: svc,
		relay:   r,
		logger:  logger.With("component", "agent_handler"),
	}
}

// Handle invokes the agent and relays its event stream. Failures before the
// stream is opened produce a JSON error with a status code; failures after
// produce an in-band error frame.
func (h *AgentHandler) Handle(c echo.Context) error {
	req := c.Request()

	payload, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request payload", Details: err.Error()})
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = req.Header.Get(echo.HeaderXRequestID)
	}

	stream, err := h.service.Invoke(&model.AgentRequest{
		Ctx:       req.Context(),
		RequestID: requestID,
		Payload:   payload,
	})
	if err != nil {
		return h.mapError(c, requestID, err)
	}
	defer func() { _ = stream.Body.Close() }()

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	sink := newStreamSink(res)
	if err := sink.flush(); err != nil {
		h.logger.Debug("flushing stream headers", "request_id", requestID, "err", err)
	}

	result := h.relay.Run(req.Context(), stream.Body, sink)

	attrs := []any{
		"request_id", requestID,
		"outcome", result.Outcome,
		"frames", result.Frames,
		"bytes", result.Bytes,
		"duration_ms", result.Duration.Milliseconds(),
	}
	switch result.Outcome {
	case relay.OutcomeCompleted:
		h.logger.Info("stream relayed", attrs...)
	case relay.OutcomeClientGone:
		h.logger.Info("client went away mid-stream", append(attrs, "err", result.Err)...)
	default:
		h.logger.Error("stream ended with error", append(attrs, "err", result.Err)...)
	}

	return nil
}

func (h *AgentHandler) mapError(c echo.Context, requestID string, err error) error {
	status, body := classify(err)
	h.logger.Error("agent invocation failed",
		"request_id", requestID,
		"status", status,
		"err", err,
	)
	return c.JSON(status, body)
}

// classify maps a pre-stream failure to a status code and response body.
func classify(err error) (int, errorBody) {
	if errors.Is(err, service.ErrInvalidPayload) {
		return http.StatusBadRequest, errorBody{Error: "Invalid request payload", Details: err.Error()}
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, errorBody{Error: PreStreamError, Details: statusErr.Detail}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, errorBody{Error: PreStreamError, Details: "agent request timed out"}
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, errorBody{Error: PreStreamError, Details: "client disconnected"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, errorBody{Error: PreStreamError, Details: "agent request timed out"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, errorBody{Error: PreStreamError, Details: "agent host unreachable"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, errorBody{Error: PreStreamError, Details: "agent connection failed"}
	}

	return http.StatusBadGateway, errorBody{Error: PreStreamError, Details: service.FallbackDetail}
}
