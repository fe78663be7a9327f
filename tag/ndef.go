package tag

import (
	"log"

	"github.com/dotside-studios/davi-nfc-tagd/ndef"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// NdefForumType is the NFC Forum tag platform of an NDEF tag.
type NdefForumType int

const (
	NdefForumTypeOther         NdefForumType = 0
	NdefForumType1             NdefForumType = 1
	NdefForumType2             NdefForumType = 2
	NdefForumType3             NdefForumType = 3
	NdefForumType4             NdefForumType = 4
	NdefForumTypeMifareClassic NdefForumType = 101
	NdefForumTypeIcodeSli      NdefForumType = 102
)

// NdefTypeString returns the platform name of t, "" for unknown types.
func NdefTypeString(t NdefForumType) string {
	switch t {
	case NdefForumType1:
		return "org.nfcforum.ndef.type1"
	case NdefForumType2:
		return "org.nfcforum.ndef.type2"
	case NdefForumType3:
		return "org.nfcforum.ndef.type3"
	case NdefForumType4:
		return "org.nfcforum.ndef.type4"
	case NdefForumTypeMifareClassic:
		return "com.nxp.ndef.mifareclassic"
	case NdefForumTypeIcodeSli:
		return "com.nxp.ndef.icodesli"
	default:
		return ""
	}
}

// NdefTagMode is the access mode of an NDEF container.
type NdefTagMode int

const (
	NdefModeInvalid   NdefTagMode = 0
	NdefModeReadOnly  NdefTagMode = 1
	NdefModeReadWrite NdefTagMode = 2
	NdefModeUnknown   NdefTagMode = 3
)

func (m NdefTagMode) String() string {
	switch m {
	case NdefModeReadOnly:
		return "ReadOnly"
	case NdefModeReadWrite:
		return "ReadWrite"
	case NdefModeUnknown:
		return "Unknown"
	default:
		return "Invalid"
	}
}

// NdefTag reads and writes the NDEF message of a tag.
type NdefTag struct {
	BasicTagSession
	forumType NdefForumType
	mode      NdefTagMode
	maxSize   int
	cached    []byte
}

// NewNdefTag creates the NDEF facade for the tag at ref.
func NewNdefTag(table *Table, ref Ref) (*NdefTag, error) {
	h, err := resolve(table, ref, nfc.TechNdef, "NewNdefTag")
	if err != nil {
		return nil, err
	}
	attrs := h.Attributes(nfc.TechNdef)
	return &NdefTag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechNdef),
		forumType:       NdefForumType(attrs.IntOr(nfc.AttrNdefForumType, int(NdefForumTypeOther))),
		mode:            NdefTagMode(attrs.IntOr(nfc.AttrNdefTagMode, int(NdefModeUnknown))),
		maxSize:         attrs.IntOr(nfc.AttrNdefTagLength, 0),
		cached:          attrs.Bytes(nfc.AttrNdefMsg),
	}, nil
}

// NdefTagType returns the forum type reported at discovery.
func (t *NdefTag) NdefTagType() NdefForumType { return t.forumType }

// NdefTagMode returns the access mode reported at discovery.
func (t *NdefTag) NdefTagMode() NdefTagMode { return t.mode }

// MaxTagSize returns the NDEF capacity in bytes reported at discovery.
func (t *NdefTag) MaxTagSize() int { return t.maxSize }

// IsNdefWritable reports whether the container was writable at discovery.
func (t *NdefTag) IsNdefWritable() bool { return t.mode == NdefModeReadWrite }

// CachedNdefMsg returns the message read at discovery, nil when there was
// none or it does not parse.
func (t *NdefTag) CachedNdefMsg() *ndef.Message {
	if len(t.cached) == 0 {
		return nil
	}
	msg, err := ndef.Decode(t.cached)
	if err != nil {
		log.Printf("NdefTag.CachedNdefMsg: %v", err)
		return nil
	}
	return msg
}

// ReadNdef reads the current message. An empty container yields nil.
func (t *NdefTag) ReadNdef() (*ndef.Message, error) {
	const op = "ReadNdef"
	if !t.IsConnected() {
		return nil, nfc.NewDisconnectedError(op)
	}
	h, err := t.tag(op)
	if err != nil {
		return nil, err
	}
	data, err := h.proxy.NdefRead(h.NativeHandle)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	msg, err := ndef.Decode(data)
	if err != nil {
		return nil, nfc.WrapError(nfc.ErrCodeFailure, op, "malformed NDEF message", err)
	}
	return msg, nil
}

// WriteNdef replaces the message on the tag.
func (t *NdefTag) WriteNdef(msg *ndef.Message) error {
	const op = "WriteNdef"
	if msg == nil {
		return nfc.NewInvalidParamError(op, "message must not be nil")
	}
	data, err := msg.Encode()
	if err != nil {
		return nfc.WrapError(nfc.ErrCodeInvalidParam, op, "cannot encode message", err)
	}
	if !t.IsConnected() {
		return nfc.NewDisconnectedError(op)
	}
	h, err := t.tag(op)
	if err != nil {
		return err
	}
	return h.proxy.NdefWrite(h.NativeHandle, data)
}

// IsEnableReadOnly reports whether the controller can lock this tag type.
func (t *NdefTag) IsEnableReadOnly() bool {
	h, ok := t.table.Lookup(t.ref)
	if !ok {
		return false
	}
	return h.proxy.CanMakeReadOnly(t.forumType)
}

// EnableReadOnly permanently locks the NDEF container. Later writes fail.
func (t *NdefTag) EnableReadOnly() error {
	const op = "EnableReadOnly"
	if !t.IsConnected() {
		return nfc.NewDisconnectedError(op)
	}
	h, err := t.tag(op)
	if err != nil {
		return err
	}
	return h.proxy.NdefMakeReadOnly(h.NativeHandle)
}
