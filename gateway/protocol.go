package gateway

import "encoding/json"

// ProtocolVersion is returned by the connect handshake.
const ProtocolVersion = 2

// Frame type markers for the duplex text protocol.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Request is one client request frame.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response correlates to a request by id. Exactly one of Payload or
// Error is set.
type Response struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a human-readable failure message.
type ErrorBody struct {
	Message string `json:"message"`
}

// Event is an uncorrelated server push.
type Event struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// NewSuccessResponse builds an ok response frame.
func NewSuccessResponse(id string, payload interface{}) *Response {
	return &Response{Type: FrameResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id string, message string) *Response {
	return &Response{Type: FrameResponse, ID: id, OK: false, Error: &ErrorBody{Message: message}}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *Event {
	return &Event{Type: FrameEvent, Event: name, Payload: payload}
}

// Chat run states. Every run emits zero or more delta events followed by
// exactly one terminal event: final, aborted, or error.
const (
	StateDelta   = "delta"
	StateFinal   = "final"
	StateAborted = "aborted"
	StateError   = "error"
)

// ChatEvent is the payload of a "chat" event frame.
type ChatEvent struct {
	RunID        string `json:"runId"`
	SessionKey   string `json:"sessionKey"`
	Seq          int    `json:"seq"`
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
