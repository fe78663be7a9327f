package tag

import (
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// Mifare Ultralight geometry.
const (
	UltralightPageSize     = 4
	UltralightMaxPageIndex = 256
	UltralightReadSize     = 4 * UltralightPageSize

	nxpManufacturerID = 0x04
)

// UltralightType is the Ultralight variant.
type UltralightType int

const (
	UltralightTypeUnknown UltralightType = iota
	UltralightTypeUltralight
	UltralightTypeUltralightC
)

func (u UltralightType) String() string {
	switch u {
	case UltralightTypeUltralight:
		return "Ultralight"
	case UltralightTypeUltralightC:
		return "UltralightC"
	default:
		return "Unknown"
	}
}

// MifareUltralightTag gives page access to a Mifare Ultralight tag.
type MifareUltralightTag struct {
	BasicTagSession
	kind UltralightType
}

// NewMifareUltralightTag creates the Ultralight facade for the tag at ref.
func NewMifareUltralightTag(table *Table, ref Ref) (*MifareUltralightTag, error) {
	h, err := resolve(table, ref, nfc.TechMifareUltralight, "NewMifareUltralightTag")
	if err != nil {
		return nil, err
	}
	kind := UltralightTypeUnknown
	if len(h.ID) > 0 && h.ID[0] == nxpManufacturerID {
		kind = UltralightTypeUltralight
		if h.Attributes(nfc.TechMifareUltralight).Bool(nfc.AttrMifareUltralightC) {
			kind = UltralightTypeUltralightC
		}
	}
	return &MifareUltralightTag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechMifareUltralight),
		kind:            kind,
	}, nil
}

// Type returns the Ultralight variant.
func (t *MifareUltralightTag) Type() UltralightType {
	return t.kind
}

// ReadMultiplePages reads four pages starting at pageIndex.
func (t *MifareUltralightTag) ReadMultiplePages(pageIndex int) ([]byte, error) {
	const op = "ReadMultiplePages"
	if err := checkIndex(op, "page index", pageIndex, UltralightMaxPageIndex); err != nil {
		return nil, err
	}
	resp, err := t.SendCommand([]byte{nfc.CmdUltralightRead, byte(pageIndex)}, false)
	if err != nil {
		return nil, err
	}
	if len(resp) != UltralightReadSize {
		return nil, nfc.Errorf(nfc.ErrCodeFailure, op, "expected %d bytes, got %d", UltralightReadSize, len(resp))
	}
	return resp, nil
}

// WriteSinglePage writes one 4-byte page.
func (t *MifareUltralightTag) WriteSinglePage(pageIndex int, data []byte) error {
	const op = "WriteSinglePage"
	if err := checkIndex(op, "page index", pageIndex, UltralightMaxPageIndex); err != nil {
		return err
	}
	if len(data) != UltralightPageSize {
		return nfc.NewInvalidParamError(op, "page data must be %d bytes, got %d", UltralightPageSize, len(data))
	}
	frame := append([]byte{nfc.CmdUltralightWrite, byte(pageIndex)}, data...)
	_, err := t.SendCommand(frame, false)
	return err
}
