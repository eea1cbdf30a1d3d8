// Package protocol defines the wire shapes exchanged over the duplex channel
// between the Browser Bridge and the in-browser Client Agent: Request
// Descriptors going out, Upstream Events coming back.
package protocol

import "encoding/json"

// EventType names the kind of frame a Request Descriptor carries. The zero
// value (empty string) is equivalent to "request".
type EventType string

const (
	EventRequest       EventType = "request"
	EventCancelRequest EventType = "cancel_request"
	EventSetLogLevel   EventType = "set_log_level"
)

// StreamingMode selects how the Client Agent forwards the upstream body.
type StreamingMode string

const (
	StreamingReal StreamingMode = "real"
	StreamingFake StreamingMode = "fake"
)

// RequestDescriptor is the unit of work sent to the Client Agent over the
// duplex channel. Body and BodyB64 are mutually exclusive: IsGenerative
// selects which one is populated.
type RequestDescriptor struct {
	RequestID     string            `json:"request_id"`
	EventType     EventType         `json:"event_type,omitempty"`
	Method        string            `json:"method,omitempty"`
	Path          string            `json:"path,omitempty"`
	URL           string            `json:"url,omitempty"`
	QueryParams   map[string]string `json:"query_params,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          string            `json:"body,omitempty"`
	BodyB64       string            `json:"body_b64,omitempty"`
	IsGenerative  bool              `json:"is_generative"`
	StreamingMode StreamingMode     `json:"streaming_mode,omitempty"`
	LogLevel      string            `json:"log_level,omitempty"`
}

// NewCancelFrame builds the descriptor sent to abort an in-flight request.
func NewCancelFrame(requestID string) *RequestDescriptor {
	return &RequestDescriptor{RequestID: requestID, EventType: EventCancelRequest}
}

// NewSetLogLevelFrame builds the descriptor used to mutate the in-browser
// log-level knob; it carries no request_id.
func NewSetLogLevelFrame(level string) *RequestDescriptor {
	return &RequestDescriptor{EventType: EventSetLogLevel, LogLevel: level}
}

// UpstreamEventKind names the kind of frame the Client Agent reports back.
type UpstreamEventKind string

const (
	EventResponseHeaders UpstreamEventKind = "response_headers"
	EventChunk           UpstreamEventKind = "chunk"
	EventStreamClose     UpstreamEventKind = "stream_close"
	EventError           UpstreamEventKind = "error"
)

// UpstreamEvent is a single frame received from the Client Agent, always
// tagged by RequestID so the dispatcher can route it to the right queue.
// Data is JSON-encoded as base64 text by encoding/json's []byte handling,
// matching the duplex channel's text-frame wire format.
type UpstreamEvent struct {
	RequestID string            `json:"request_id"`
	Kind      UpstreamEventKind `json:"kind"`
	Status    int               `json:"status,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// DecodeUpstreamEvent parses one duplex-channel text frame into an UpstreamEvent.
func DecodeUpstreamEvent(raw []byte) (*UpstreamEvent, error) {
	ev := &UpstreamEvent{}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeDescriptor serializes a RequestDescriptor for transmission.
func EncodeDescriptor(d *RequestDescriptor) ([]byte, error) {
	return json.Marshal(d)
}
