// Package service implements the upstream agent invocation.
package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"agent-stream-relay/internal/client"
	"agent-stream-relay/internal/config"
	"agent-stream-relay/internal/model"
)

// ErrInvalidPayload is returned when the inbound payload is not valid JSON.
var ErrInvalidPayload = errors.New("request body must be valid JSON")

// FallbackDetail is reported when a failed upstream response carries no usable error detail.
const FallbackDetail = "Failed to call agent"

const (
	userAgent       = "agent-stream-relay/1.0"
	eventStreamType = "text/event-stream"
)

// detailPaths are the gjson paths tried, in order, for an upstream error detail.
var detailPaths = []string{"detail", "error.message", "error", "message"}

// UpstreamStatusError reports a non-success status from the agent service.
// It is always a pre-stream failure: nothing has been sent downstream yet.
type UpstreamStatusError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("agent responded with status %d: %s", e.StatusCode, e.Detail)
}

// AgentService issues the single outbound call for an exchange and gates the
// relay on its outcome.
type AgentService struct {
	client       *client.AgentClient
	cfg          *config.Config
	logger       *slog.Logger
	endpoint     string
	errorBodyMax int64
}

// NewAgentService creates an AgentService posting to the configured agent endpoint.
func NewAgentService(c *client.AgentClient, cfg *config.Config, logger *slog.Logger) (*AgentService, error) {
	endpoint := cfg.Agent.Endpoint()
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse agent endpoint: %w", err)
	}
	errorBodyMax := cfg.Upstream.ErrorBodyMaxBytes
	if errorBodyMax <= 0 {
		errorBodyMax = 64 * 1024
	}
	return &AgentService{
		client:       c,
		cfg:          cfg,
		logger:       logger.With("component", "agent_service"),
		endpoint:     endpoint,
		errorBodyMax: errorBodyMax,
	}, nil
}

// Endpoint returns the URL requests are posted to.
func (s *AgentService) Endpoint() string {
	return s.endpoint
}

// Invoke posts the payload to the agent and returns the open event stream.
// The caller is responsible for closing the returned body.
//
// A transport failure is returned wrapped. A non-success status is returned as
// *UpstreamStatusError carrying the upstream "detail" field, or FallbackDetail
// when the body has none; its body is closed before returning. No retries are
// attempted.
func (s *AgentService) Invoke(ar *model.AgentRequest) (*model.AgentStream, error) {
	if !json.Valid(ar.Payload) {
		return nil, ErrInvalidPayload
	}

	requestID := ar.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	s.logger.Debug("invoking agent",
		"request_id", requestID,
		"payload_bytes", len(ar.Payload),
	)

	resp, err := s.client.DoStream(ar.Ctx, http.MethodPost, s.endpoint, s.requestHeaders(requestID), bytes.NewReader(ar.Payload))
	if err != nil {
		return nil, fmt.Errorf("invoke agent: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() { _ = resp.Body.Close() }()
		return nil, &UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Detail:     s.readErrorDetail(resp.Body),
		}
	}

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != eventStreamType {
		s.logger.Warn("agent response is not an event stream; relaying anyway",
			"request_id", requestID,
			"content_type", resp.Header.Get("Content-Type"),
		)
	}

	return resp, nil
}

func (s *AgentService) requestHeaders(requestID string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", eventStreamType)
	h.Set("Cache-Control", "no-cache")
	h.Set("User-Agent", userAgent)
	h.Set("X-Request-Id", requestID)
	if s.cfg.Agent.APIKey != "" {
		h.Set("Authorization", "Bearer "+s.cfg.Agent.APIKey)
	}
	return h
}

// readErrorDetail extracts the error detail from a failed upstream response.
// Non-string values (e.g. validation error lists) are returned as raw JSON.
func (s *AgentService) readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, s.errorBodyMax))
	if err != nil {
		s.logger.Debug("reading upstream error body", "err", err)
		return FallbackDetail
	}
	if !gjson.ValidBytes(data) {
		return FallbackDetail
	}

	for _, path := range detailPaths {
		r := gjson.GetBytes(data, path)
		switch {
		case !r.Exists():
			continue
		case r.Type == gjson.String:
			if r.Str != "" {
				return r.Str
			}
		case r.IsObject(), r.IsArray():
			return r.Raw
		}
	}
	return FallbackDetail
}
