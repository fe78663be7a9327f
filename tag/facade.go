package tag

import (
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// Facade is implemented by every technology facade.
type Facade interface {
	Technology() nfc.Technology
	Connect() error
	Reconnect() error
	IsConnected() bool
	Close() error
	TagID() []byte
	Session() *BasicTagSession
}

// Session returns the underlying session.
func (s *BasicTagSession) Session() *BasicTagSession {
	return s
}

var (
	_ Facade = (*Iso15693Tag)(nil)
	_ Facade = (*IsoDepTag)(nil)
	_ Facade = (*MifareClassicTag)(nil)
	_ Facade = (*MifareUltralightTag)(nil)
	_ Facade = (*NdefTag)(nil)
	_ Facade = (*NdefFormatableTag)(nil)
)

// resolve checks that ref is live and advertises tech.
func resolve(table *Table, ref Ref, tech nfc.Technology, op string) (*TagHandle, error) {
	h, ok := table.Lookup(ref)
	if !ok {
		return nil, nfc.NewDisconnectedError(op)
	}
	if !h.HasTechnology(tech) {
		return nil, nfc.Errorf(nfc.ErrCodeNotSupported, op, "tag %s does not support %s", h.UID(), tech)
	}
	return h, nil
}

// Get returns the facade for tech on the tag at ref.
func Get(table *Table, ref Ref, tech nfc.Technology) (Facade, error) {
	switch tech {
	case nfc.TechNfcV:
		return NewIso15693Tag(table, ref)
	case nfc.TechIsoDep:
		return NewIsoDepTag(table, ref)
	case nfc.TechMifareClassic:
		return NewMifareClassicTag(table, ref)
	case nfc.TechMifareUltralight:
		return NewMifareUltralightTag(table, ref)
	case nfc.TechNdef:
		return NewNdefTag(table, ref)
	case nfc.TechNdefFormatable:
		return NewNdefFormatableTag(table, ref)
	default:
		return nil, nfc.Errorf(nfc.ErrCodeNotSupported, "Get", "no facade for %s", tech)
	}
}

// checkIndex validates an index in [0, limit).
func checkIndex(op, what string, index, limit int) error {
	if index < 0 || index >= limit {
		return nfc.NewInvalidParamError(op, "%s %d out of range [0, %d)", what, index, limit)
	}
	return nil
}
