package wire

import (
	"context"
	"errors"
	"fmt"
)

// EventMessageID is the MessageID carried by events.
const EventMessageID uint32 = 0

// Request is a single tag session operation.
type Request struct {
	// MessageID correlates the response. Must be non-zero.
	MessageID uint32 `cbor:"1,keyasint"`

	Operation Operation `cbor:"2,keyasint"`

	// Handle is the native tag handle assigned at discovery.
	Handle int32 `cbor:"3,keyasint,omitempty"`

	Technology uint8  `cbor:"4,keyasint,omitempty"`
	Data       []byte `cbor:"5,keyasint,omitempty"`
	Raw        bool   `cbor:"6,keyasint,omitempty"`

	// Timeout is a command timeout in milliseconds.
	Timeout int32 `cbor:"7,keyasint,omitempty"`

	Value int32 `cbor:"8,keyasint,omitempty"`
}

// Validate checks the request envelope fields.
func (r *Request) Validate() error {
	if r.MessageID == EventMessageID {
		return errors.New("message id must be non-zero")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("unknown operation %d", r.Operation)
	}
	return nil
}

// Response answers a Request.
type Response struct {
	MessageID uint32 `cbor:"1,keyasint"`
	Status    Status `cbor:"2,keyasint"`

	// Code is the nfc.ErrorCode of the operation, 0 on success.
	Code int32 `cbor:"3,keyasint,omitempty"`

	// Result is the Transceive outcome.
	Result ResultCode `cbor:"4,keyasint,omitempty"`

	Data  []byte `cbor:"5,keyasint,omitempty"`
	Value int32  `cbor:"6,keyasint,omitempty"`
	Flag  bool   `cbor:"7,keyasint,omitempty"`

	// Message describes a non-zero Status.
	Message string `cbor:"8,keyasint,omitempty"`
}

// NewResponse creates a successful response for req.
func NewResponse(req *Request) *Response {
	return &Response{MessageID: req.MessageID, Status: StatusSuccess}
}

// NewStatusResponse creates a response carrying a non-zero status.
func NewStatusResponse(messageID uint32, status Status, msg string) *Response {
	return &Response{MessageID: messageID, Status: status, Message: msg}
}

// EventKind identifies an Event.
type EventKind uint8

const (
	EventTagDiscovered EventKind = 1
	EventTagLost       EventKind = 2
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventTagDiscovered:
		return "TagDiscovered"
	case EventTagLost:
		return "TagLost"
	default:
		return "Unknown"
	}
}

// Event announces a change in the set of tags in the field.
type Event struct {
	Kind         EventKind                `cbor:"1,keyasint"`
	Handle       int32                    `cbor:"2,keyasint"`
	UID          []byte                   `cbor:"3,keyasint,omitempty"`
	Technologies []uint8                  `cbor:"4,keyasint,omitempty"`
	Extras       map[uint8]map[string]any `cbor:"5,keyasint,omitempty"`
}

// Caller performs a request and waits for its response.
// A returned error means the call did not complete.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, req *Request) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
