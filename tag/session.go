package tag

import (
	"log"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// BasicTagSession is the connection logic shared by every technology
// facade. It holds only a table reference and its technology; the tag and
// the connected technology live in the Table.
type BasicTagSession struct {
	table     *Table
	ref       Ref
	tech      nfc.Technology
	connected bool
}

func newBasicTagSession(table *Table, ref Ref, tech nfc.Technology) BasicTagSession {
	return BasicTagSession{table: table, ref: ref, tech: tech}
}

// Technology returns the technology this session connects.
func (s *BasicTagSession) Technology() nfc.Technology {
	return s.tech
}

// Ref returns the table reference of the tag.
func (s *BasicTagSession) Ref() Ref {
	return s.ref
}

// tag resolves the session's tag or fails with Disconnected.
func (s *BasicTagSession) tag(op string) (*TagHandle, error) {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		s.connected = false
		return nil, nfc.NewDisconnectedError(op)
	}
	return h, nil
}

// attributes returns the extras of the session technology, empty when the
// tag is gone.
func (s *BasicTagSession) attributes() nfc.Attributes {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return nfc.Attributes{}
	}
	return h.Attributes(s.tech)
}

// Connect selects the session technology on the tag. Connecting makes this
// technology the active one for every session on the same tag.
func (s *BasicTagSession) Connect() error {
	h, err := s.tag("Connect")
	if err != nil {
		return err
	}
	if err := h.proxy.Connect(h.NativeHandle, s.tech); err != nil {
		return err
	}
	if !s.table.setActive(s.ref, s.tech) {
		return nfc.NewDisconnectedError("Connect")
	}
	s.connected = true
	return nil
}

// Reconnect re-selects the connected technology.
func (s *BasicTagSession) Reconnect() error {
	if !s.IsConnected() {
		return nfc.NewDisconnectedError("Reconnect")
	}
	h, err := s.tag("Reconnect")
	if err != nil {
		return err
	}
	return h.proxy.Reconnect(h.NativeHandle)
}

// IsConnected reports whether this session's technology is the connected
// one. It does not contact the service.
func (s *BasicTagSession) IsConnected() bool {
	if !s.connected {
		return false
	}
	active, ok := s.table.activeTechnology(s.ref)
	return ok && active == s.tech
}

// Close releases the connection. It never fails and sends at most one
// Disconnect: none when the session is not connected.
func (s *BasicTagSession) Close() error {
	if !s.IsConnected() {
		s.connected = false
		return nil
	}
	s.connected = false

	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return nil
	}
	if !s.table.clearActive(s.ref, s.tech) {
		return nil
	}
	if err := h.proxy.Disconnect(h.NativeHandle); err != nil {
		log.Printf("BasicTagSession.Close: disconnect %s on tag %s: %v", s.tech, h.UID(), err)
	}
	return nil
}

// TagID returns the tag id, empty once the tag is gone.
func (s *BasicTagSession) TagID() []byte {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return []byte{}
	}
	out := make([]byte, len(h.ID))
	copy(out, h.ID)
	return out
}

// IsPresent asks the service whether the tag is still in the field.
func (s *BasicTagSession) IsPresent() bool {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return false
	}
	return h.proxy.IsPresent(h.NativeHandle)
}

// SendCommand transceives data on the connected technology.
func (s *BasicTagSession) SendCommand(data []byte, raw bool) ([]byte, error) {
	const op = "SendCommand"
	if !s.IsConnected() {
		return nil, nfc.NewDisconnectedError(op)
	}
	h, err := s.tag(op)
	if err != nil {
		return nil, err
	}

	res, err := h.proxy.Transceive(h.NativeHandle, data, raw)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case wire.ResultSuccess:
		return res.Payload, nil
	case wire.ResultTagLost:
		return nil, nfc.NewError(nfc.ErrCodeTagLost, op)
	case wire.ResultExceededLength:
		return nil, nfc.Errorf(nfc.ErrCodeExceededLength, op, "command of %d bytes exceeds the transceive limit", len(data))
	default:
		return nil, nfc.NewError(nfc.ErrCodeFailure, op)
	}
}

// MaxSendCommandLength returns the largest command the session technology
// accepts.
func (s *BasicTagSession) MaxSendCommandLength() int {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return 0
	}
	return h.proxy.MaxTransceiveLength(s.tech)
}

// IsExtendedApduSupported reports whether extended-length APDUs are supported.
func (s *BasicTagSession) IsExtendedApduSupported() bool {
	h, ok := s.table.Lookup(s.ref)
	if !ok {
		return false
	}
	return h.proxy.IsSupportedApdusExtended()
}

// SetTimeout sets the send-command timeout of the session technology.
func (s *BasicTagSession) SetTimeout(ms int) error {
	if ms < 0 {
		return nfc.NewInvalidParamError("SetTimeout", "timeout %d must not be negative", ms)
	}
	h, err := s.tag("SetTimeout")
	if err != nil {
		return err
	}
	return h.proxy.SetTimeout(h.NativeHandle, s.tech, ms)
}

// Timeout returns the send-command timeout of the session technology.
func (s *BasicTagSession) Timeout() (int, error) {
	h, err := s.tag("Timeout")
	if err != nil {
		return 0, err
	}
	return h.proxy.GetTimeout(h.NativeHandle, s.tech)
}

// ResetTimeouts restores the default send-command timeouts.
func (s *BasicTagSession) ResetTimeouts() error {
	h, err := s.tag("ResetTimeouts")
	if err != nil {
		return err
	}
	return h.proxy.ResetTimeouts(h.NativeHandle)
}
