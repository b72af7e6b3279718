// Package model defines shared types for the relay.
package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// AgentRequest is one inbound exchange to be forwarded to the agent service.
type AgentRequest struct {
	Ctx       context.Context
	RequestID string
	// Payload is forwarded verbatim; it is never interpreted.
	Payload json.RawMessage
}

// AgentStream is an accepted upstream response whose body is an event stream.
// The receiver owns Body and must close it.
type AgentStream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
