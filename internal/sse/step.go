package sse

import (
	"encoding/json"
	"fmt"
)

// StepKind tags the result of one relay step.
type StepKind int

const (
	// StepFrame carries one complete frame to forward.
	StepFrame StepKind = iota
	// StepError reports that the upstream stream failed; no further steps follow.
	StepError
	// StepEnd reports normal completion; no further steps follow.
	StepEnd
)

func (k StepKind) String() string {
	switch k {
	case StepFrame:
		return "frame"
	case StepError:
		return "error"
	case StepEnd:
		return "end"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is the tagged result of pulling the stream forward once. The transport
// layer decides how each kind is serialized downstream.
type Step struct {
	Kind StepKind
	// Frame is set for StepFrame and includes the trailing Delimiter.
	Frame []byte
	// Err is set for StepError.
	Err error
}

// ErrorPayload is the JSON body of a synthetic error frame.
type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ErrorFrame renders an in-band error event:
//
//	event: error
//	data: {"error":"...","details":"..."}
//
// followed by the frame Delimiter.
func ErrorFrame(message, details string) []byte {
	data, err := json.Marshal(ErrorPayload{Error: message, Details: details})
	if err != nil {
		// Marshalling two strings cannot fail.
		panic(fmt.Sprintf("sse: marshal error payload: %v", err))
	}
	frame := make([]byte, 0, len(data)+len("event: error\ndata: ")+len(Delimiter))
	frame = append(frame, "event: error\ndata: "...)
	frame = append(frame, data...)
	return append(frame, Delimiter...)
}
