package wire

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var typeOfStringMap = reflect.TypeOf(map[string]any(nil))

// MessageType identifies the body of an Envelope.
type MessageType uint8

const (
	MessageTypeUnknown  MessageType = 0
	MessageTypeRequest  MessageType = 1
	MessageTypeResponse MessageType = 2
	MessageTypeEvent    MessageType = 3
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Envelope frames one message on a stream transport.
type Envelope struct {
	Type MessageType     `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

func wrap(t MessageType, body []byte) ([]byte, error) {
	return Marshal(&Envelope{Type: t, Body: body})
}

// WrapRequest encodes req inside an envelope.
func WrapRequest(req *Request) ([]byte, error) {
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	return wrap(MessageTypeRequest, body)
}

// WrapResponse encodes resp inside an envelope.
func WrapResponse(resp *Response) ([]byte, error) {
	body, err := EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	return wrap(MessageTypeResponse, body)
}

// WrapEvent encodes ev inside an envelope.
func WrapEvent(ev *Event) ([]byte, error) {
	body, err := EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return wrap(MessageTypeEvent, body)
}

// Unwrap decodes an envelope. The body is left encoded.
func Unwrap(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	switch env.Type {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeEvent:
	default:
		return nil, fmt.Errorf("unknown message type %d", env.Type)
	}
	if len(env.Body) == 0 {
		return nil, fmt.Errorf("empty %s body", env.Type)
	}
	return &env, nil
}
