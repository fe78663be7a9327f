package tag

import (
	"github.com/dotside-studios/davi-nfc-tagd/ndef"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// NdefFormatableTag formats a blank tag for NDEF.
type NdefFormatableTag struct {
	BasicTagSession
	forumType NdefForumType
}

// NewNdefFormatableTag creates the NDEF-formatable facade for the tag at ref.
func NewNdefFormatableTag(table *Table, ref Ref) (*NdefFormatableTag, error) {
	h, err := resolve(table, ref, nfc.TechNdefFormatable, "NewNdefFormatableTag")
	if err != nil {
		return nil, err
	}
	attrs := h.Attributes(nfc.TechNdefFormatable)
	return &NdefFormatableTag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechNdefFormatable),
		forumType:       NdefForumType(attrs.IntOr(nfc.AttrNdefForumType, int(NdefForumTypeOther))),
	}, nil
}

// Format formats the tag and writes msg when it is not nil.
func (t *NdefFormatableTag) Format(msg *ndef.Message) error {
	return t.format("Format", msg, false)
}

// FormatReadOnly formats the tag, writes msg and locks it. Nothing is
// formatted when the controller cannot lock this tag type.
func (t *NdefFormatableTag) FormatReadOnly(msg *ndef.Message) error {
	return t.format("FormatReadOnly", msg, true)
}

func (t *NdefFormatableTag) format(op string, msg *ndef.Message, readOnly bool) error {
	var data []byte
	if msg != nil {
		var err error
		if data, err = msg.Encode(); err != nil {
			return nfc.WrapError(nfc.ErrCodeInvalidParam, op, "cannot encode message", err)
		}
	}
	if !t.IsConnected() {
		return nfc.NewDisconnectedError(op)
	}
	h, err := t.tag(op)
	if err != nil {
		return err
	}
	if readOnly && !h.proxy.CanMakeReadOnly(t.forumType) {
		return nfc.Errorf(nfc.ErrCodeFailure, op, "tag type %d cannot be made read-only", t.forumType)
	}

	if err := h.proxy.FormatNdef(h.NativeHandle, nfc.KeyDefault); err != nil {
		return err
	}
	if data != nil {
		if err := h.proxy.NdefWrite(h.NativeHandle, data); err != nil {
			return err
		}
	}
	if readOnly {
		return h.proxy.NdefMakeReadOnly(h.NativeHandle)
	}
	return nil
}
