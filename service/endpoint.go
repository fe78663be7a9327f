// Package service implements the service side of tag sessions: the
// TagSessionManager that owns hardware endpoints and the dispatcher that
// serves the wire contract on top of it.
package service

import (
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// NdefInfo describes the NDEF container found on a tag.
type NdefInfo struct {
	Supported bool
	MaxSize   int
	// Mode uses the NDEF tag mode values (1 read-only, 2 read-write).
	Mode int
}

// TagEndpoint is the hardware-level connection to one tag in the field.
// Transceive reports a tag that left the field with an error carrying
// nfc.ErrCodeTagLost.
type TagEndpoint interface {
	Handle() int
	UID() []byte
	TechList() []nfc.Technology
	Extras() map[nfc.Technology]nfc.Attributes

	Connect(tech nfc.Technology) error
	Disconnect() error
	Reconnect() error
	ConnectedTechnology() (nfc.Technology, bool)
	Transceive(data []byte, raw bool) ([]byte, error)

	PresenceCheck() bool
	IsPresent() bool

	ReadNdef() ([]byte, error)
	WriteNdef(data []byte) error
	FormatNdef(key []byte) error
	MakeReadOnly() error
	CheckNdef() (NdefInfo, error)
}

// TimeoutSetter is implemented by endpoints that honour a command timeout.
type TimeoutSetter interface {
	SetTimeout(tech nfc.Technology, ms int)
}

// DeviceHost answers controller-wide capability queries.
type DeviceHost interface {
	IsEnabled() bool
	// CanMakeReadOnly reports whether an NDEF forum type can be locked.
	CanMakeReadOnly(ndefType int) bool
	IsoDepMaxTransceiveLength() int
	ExtendedLengthApdusSupported() bool
}

// Registrar receives tags entering and leaving the field. Drivers report to
// it; *Manager implements it.
type Registrar interface {
	TagDiscovered(ep TagEndpoint)
	TagRemoved(handle int)
}
