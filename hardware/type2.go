package hardware

import (
	"fmt"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// Type2Pages gives page access to an NFC Forum Type 2 tag (Ultralight,
// NTAG).
type Type2Pages interface {
	// ReadPages returns the 16 bytes starting at page.
	ReadPages(page int) ([]byte, error)
	WritePage(page int, data []byte) error
}

// Type 2 memory layout.
const (
	Type2PageSize = 4
	type2LockPage = 2
	type2CCPage   = 3
	type2DataPage = 4
	type2Magic    = 0xE1
	type2Version  = 0x10
	type2ReadOnly = 0x0F
)

// Type2Container is the NDEF container described by the capability
// container in page 3.
type Type2Container struct {
	// Size is the data area size in bytes.
	Size     int
	ReadOnly bool
}

// ReadType2CC reads the capability container. ok is false when the tag is
// not NDEF formatted.
func ReadType2CC(p Type2Pages) (cc Type2Container, ok bool, err error) {
	buf, err := p.ReadPages(type2CCPage)
	if err != nil {
		return Type2Container{}, false, err
	}
	if len(buf) < Type2PageSize || buf[0] != type2Magic {
		return Type2Container{}, false, nil
	}
	return Type2Container{
		Size:     int(buf[2]) * 8,
		ReadOnly: buf[3]&type2ReadOnly == type2ReadOnly,
	}, true, nil
}

func readType2Data(p Type2Pages, size int) ([]byte, error) {
	data := make([]byte, 0, size+16)
	for page := type2DataPage; len(data) < size; page += 4 {
		buf, err := p.ReadPages(page)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", page, err)
		}
		data = append(data, buf...)
	}
	return data[:size], nil
}

// CheckType2 describes the NDEF container of the tag.
func CheckType2(p Type2Pages) (service.NdefInfo, error) {
	cc, ok, err := ReadType2CC(p)
	if err != nil || !ok {
		return service.NdefInfo{}, err
	}
	info := service.NdefInfo{Supported: true, MaxSize: cc.Size, Mode: 2}
	if cc.ReadOnly {
		info.Mode = 1
	}
	return info, nil
}

// ReadType2Ndef returns the NDEF message bytes of the tag, nil for an
// empty container.
func ReadType2Ndef(p Type2Pages) ([]byte, error) {
	const op = "ReadNdef"
	cc, ok, err := ReadType2CC(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nfc.NewNotSupportedError(op)
	}
	data, err := readType2Data(p, cc.Size)
	if err != nil {
		return nil, err
	}
	msg, found := nfc.TLVFindNDEF(data)
	if !found || len(msg) == 0 {
		return nil, nil
	}
	return msg, nil
}

// WriteType2Ndef replaces the NDEF message of the tag.
func WriteType2Ndef(p Type2Pages, msg []byte) error {
	const op = "WriteNdef"
	cc, ok, err := ReadType2CC(p)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return nfc.NewNotSupportedError(op)
	case cc.ReadOnly:
		return fmt.Errorf("NDEF container is read-only")
	}

	tlv := nfc.TLVEncode(msg, nfc.TLVNDEF)
	// The terminator may be left out when the message fills the container.
	if len(tlv)-1 > cc.Size {
		return nfc.Errorf(nfc.ErrCodeExceededLength, op, "message of %d bytes exceeds capacity %d", len(msg), cc.Size)
	}
	if len(tlv) > cc.Size {
		tlv = tlv[:cc.Size]
	}
	return writeType2Pages(p, type2DataPage, tlv)
}

func writeType2Pages(p Type2Pages, page int, data []byte) error {
	for offset := 0; offset < len(data); offset += Type2PageSize {
		buf := make([]byte, Type2PageSize)
		copy(buf, data[offset:])
		if err := p.WritePage(page, buf); err != nil {
			return fmt.Errorf("write page %d: %w", page, err)
		}
		page++
	}
	return nil
}

// FormatType2 writes a capability container for a data area of dataSize
// bytes followed by an empty NDEF message. Formatted tags are left alone.
func FormatType2(p Type2Pages, dataSize int) error {
	_, ok, err := ReadType2CC(p)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("tag is already NDEF formatted")
	}
	if dataSize < 8 || dataSize/8 > 0xFF {
		return nfc.NewInvalidParamError("FormatNdef", "data area of %d bytes", dataSize)
	}
	cc := []byte{type2Magic, type2Version, byte(dataSize / 8), 0x00}
	if err := p.WritePage(type2CCPage, cc); err != nil {
		return fmt.Errorf("write capability container: %w", err)
	}
	return writeType2Pages(p, type2DataPage, []byte{nfc.TLVNDEF, 0x00, nfc.TLVTerminator})
}

// LockType2 marks the container read-only and sets the static lock bits.
// This cannot be undone.
func LockType2(p Type2Pages) error {
	const op = "MakeReadOnly"
	buf, err := p.ReadPages(type2LockPage)
	if err != nil {
		return err
	}
	if len(buf) < 2*Type2PageSize || buf[Type2PageSize] != type2Magic {
		return nfc.NewNotSupportedError(op)
	}
	cc := append([]byte(nil), buf[Type2PageSize:2*Type2PageSize]...)
	cc[3] = type2ReadOnly
	if err := p.WritePage(type2CCPage, cc); err != nil {
		return fmt.Errorf("write capability container: %w", err)
	}
	lock := []byte{buf[0], buf[1], 0xFF, 0xFF}
	if err := p.WritePage(type2LockPage, lock); err != nil {
		return fmt.Errorf("write lock bytes: %w", err)
	}
	return nil
}
