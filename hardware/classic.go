package hardware

import (
	"fmt"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// ClassicBlocks gives authenticated block access to a Mifare Classic card.
type ClassicBlocks interface {
	// Authenticate opens the sector holding block. keyType is
	// nfc.KeyTypeA or nfc.KeyTypeB.
	Authenticate(block int, keyType byte, key []byte) error
	ReadBlock(block int) ([]byte, error)
	WriteBlock(block int, data []byte) error
}

// ClassicBlockSize is the size of one Mifare Classic block.
const ClassicBlockSize = nfc.ClassicBlockSize

// NDEF forum types reported in the Ndef extras.
const (
	NdefForumType2       = 2
	NdefForumTypeClassic = 101
)

// NFC Forum Mifare Classic mapping.
const (
	classicNdefAID     = 0xE103
	classicMADInfo     = 0x01
	classicMADSectors  = 16
	classicGPBMAD      = 0xC1
	classicGPBNdef     = 0x40
	classicGPBReadOnly = 0x03
)

var (
	classicAccessMAD  = [3]byte{0x78, 0x77, 0x88}
	classicAccessNdef = [3]byte{0x7F, 0x07, 0x88}
)

// ClassicLayout is the sector geometry of a Mifare Classic card.
type ClassicLayout struct {
	Sectors int
}

// ClassicLayoutForSize returns the layout of a card with size bytes of
// memory. Unknown sizes are treated as 1K.
func ClassicLayoutForSize(size int) ClassicLayout {
	if n := nfc.ClassicSectorCount(size); n > 0 {
		return ClassicLayout{Sectors: n}
	}
	return ClassicLayout{Sectors: nfc.ClassicSectorCount(1024)}
}

// ndefSectors are the sectors the MAD hands to the NFC Forum application.
// Only the first MAD is written, so 4K cards use sectors 1 to 15 as well.
func (l ClassicLayout) ndefSectors() []int {
	last := min(l.Sectors, classicMADSectors)
	var sectors []int
	for s := 1; s < last; s++ {
		sectors = append(sectors, s)
	}
	return sectors
}

// ndefCapacity is the size of the NDEF data area in bytes.
func (l ClassicLayout) ndefCapacity() int {
	n := 0
	for _, s := range l.ndefSectors() {
		n += (nfc.ClassicSectorBlockCount(s) - 1) * ClassicBlockSize
	}
	return n
}

// ClassicTrailer builds a sector trailer.
func ClassicTrailer(keyA []byte, access [3]byte, gpb byte, keyB []byte) []byte {
	trailer := make([]byte, ClassicBlockSize)
	copy(trailer[0:6], keyA)
	copy(trailer[6:9], access[:])
	trailer[9] = gpb
	copy(trailer[10:16], keyB)
	return trailer
}

// classicMADCRC is the CRC-8 of the MAD (polynomial 0x1D, preset 0xC7).
func classicMADCRC(data []byte) byte {
	crc := byte(0xC7)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x1D
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// classicMAD returns blocks 1 and 2 of a MAD that assigns every NDEF sector
// of l to the NFC Forum application.
func classicMAD(l ClassicLayout) []byte {
	mad := make([]byte, 2*ClassicBlockSize)
	mad[1] = classicMADInfo
	for _, s := range l.ndefSectors() {
		mad[2*s] = byte(classicNdefAID)
		mad[2*s+1] = byte(classicNdefAID >> 8)
	}
	mad[0] = classicMADCRC(mad[1:])
	return mad
}

func classicAuthNdef(c ClassicBlocks, sector int) error {
	return c.Authenticate(nfc.ClassicSectorTrailer(sector), nfc.KeyTypeA, nfc.KeyNFCForum)
}

// CheckClassic describes the NDEF container of the card. A card whose first
// NDEF sector does not open with the NFC Forum public key has none.
func CheckClassic(c ClassicBlocks, l ClassicLayout) (service.NdefInfo, error) {
	sectors := l.ndefSectors()
	if len(sectors) == 0 {
		return service.NdefInfo{}, nil
	}
	if err := classicAuthNdef(c, sectors[0]); err != nil {
		if nfc.IsTagLostError(err) {
			return service.NdefInfo{}, err
		}
		return service.NdefInfo{}, nil
	}
	trailer, err := c.ReadBlock(nfc.ClassicSectorTrailer(sectors[0]))
	if err != nil {
		return service.NdefInfo{}, err
	}
	info := service.NdefInfo{Supported: true, MaxSize: classicMaxMessage(l), Mode: 2}
	if len(trailer) == ClassicBlockSize && trailer[9]&classicGPBReadOnly == classicGPBReadOnly {
		info.Mode = 1
	}
	return info, nil
}

// classicMaxMessage leaves room for a long TLV header.
func classicMaxMessage(l ClassicLayout) int {
	return max(l.ndefCapacity()-4, 0)
}

// ReadClassicNdef returns the NDEF message bytes of the card, nil for an
// empty container.
func ReadClassicNdef(c ClassicBlocks, l ClassicLayout) ([]byte, error) {
	const op = "ReadNdef"
	var data []byte
	for i, s := range l.ndefSectors() {
		if err := classicAuthNdef(c, s); err != nil {
			if i == 0 && !nfc.IsTagLostError(err) {
				return nil, nfc.NewNotSupportedError(op)
			}
			return nil, fmt.Errorf("authenticate sector %d: %w", s, err)
		}
		first := nfc.ClassicSectorFirstBlock(s)
		for b := first; b < nfc.ClassicSectorTrailer(s); b++ {
			block, err := c.ReadBlock(b)
			if err != nil {
				return nil, fmt.Errorf("read block %d: %w", b, err)
			}
			data = append(data, block...)
		}
		if msg, ok := nfc.TLVFindNDEF(data); ok {
			if len(msg) == 0 {
				return nil, nil
			}
			return msg, nil
		}
		if _, t := nfc.TLVDecode(data); t == nfc.TLVTerminator {
			return nil, nil
		}
	}
	return nil, nil
}

// WriteClassicNdef replaces the NDEF message of the card.
func WriteClassicNdef(c ClassicBlocks, l ClassicLayout, msg []byte) error {
	const op = "WriteNdef"
	info, err := CheckClassic(c, l)
	if err != nil {
		return err
	}
	switch {
	case !info.Supported:
		return nfc.NewNotSupportedError(op)
	case info.Mode == 1:
		return fmt.Errorf("NDEF container is read-only")
	case len(msg) > info.MaxSize:
		return nfc.Errorf(nfc.ErrCodeExceededLength, op, "message of %d bytes exceeds capacity %d", len(msg), info.MaxSize)
	}

	tlv := nfc.TLVEncode(msg, nfc.TLVNDEF)
	if capacity := l.ndefCapacity(); len(tlv) > capacity {
		tlv = tlv[:capacity]
	}
	offset := 0
	for _, s := range l.ndefSectors() {
		if offset >= len(tlv) {
			break
		}
		if err := classicAuthNdef(c, s); err != nil {
			return fmt.Errorf("authenticate sector %d: %w", s, err)
		}
		for b := nfc.ClassicSectorFirstBlock(s); b < nfc.ClassicSectorTrailer(s) && offset < len(tlv); b++ {
			block := make([]byte, ClassicBlockSize)
			copy(block, tlv[offset:])
			if err := c.WriteBlock(b, block); err != nil {
				return fmt.Errorf("write block %d: %w", b, err)
			}
			offset += ClassicBlockSize
		}
	}
	return nil
}

// FormatClassic turns a card whose sectors open with key A = key into an
// NFC Forum card: a MAD in sector 0, the public key on the NDEF sectors and
// an empty NDEF message. key becomes key B of every formatted sector.
func FormatClassic(c ClassicBlocks, l ClassicLayout, key []byte) error {
	const op = "FormatNdef"
	if len(key) != 6 {
		return nfc.NewInvalidParamError(op, "key must be 6 bytes, got %d", len(key))
	}
	sectors := l.ndefSectors()
	if len(sectors) == 0 {
		return nfc.NewNotSupportedError(op)
	}

	if err := c.Authenticate(nfc.ClassicSectorTrailer(0), nfc.KeyTypeA, key); err != nil {
		if nfc.IsTagLostError(err) {
			return err
		}
		return fmt.Errorf("sector 0 does not open with the given key: %w", err)
	}
	mad := classicMAD(l)
	if err := c.WriteBlock(1, mad[:ClassicBlockSize]); err != nil {
		return fmt.Errorf("write MAD: %w", err)
	}
	if err := c.WriteBlock(2, mad[ClassicBlockSize:]); err != nil {
		return fmt.Errorf("write MAD: %w", err)
	}
	if err := c.WriteBlock(nfc.ClassicSectorTrailer(0), ClassicTrailer(nfc.KeyMAD, classicAccessMAD, classicGPBMAD, key)); err != nil {
		return fmt.Errorf("write trailer of sector 0: %w", err)
	}

	for i, s := range sectors {
		trailer := nfc.ClassicSectorTrailer(s)
		if err := c.Authenticate(trailer, nfc.KeyTypeA, key); err != nil {
			return fmt.Errorf("authenticate sector %d: %w", s, err)
		}
		if i == 0 {
			empty := make([]byte, ClassicBlockSize)
			copy(empty, []byte{nfc.TLVNDEF, 0x00, nfc.TLVTerminator})
			if err := c.WriteBlock(nfc.ClassicSectorFirstBlock(s), empty); err != nil {
				return fmt.Errorf("write block %d: %w", nfc.ClassicSectorFirstBlock(s), err)
			}
		}
		if err := c.WriteBlock(trailer, ClassicTrailer(nfc.KeyNFCForum, classicAccessNdef, classicGPBNdef, key)); err != nil {
			return fmt.Errorf("write trailer of sector %d: %w", s, err)
		}
	}
	return nil
}

// NdefAttributes returns the Ndef extras for a container of forumType.
func NdefAttributes(forumType int, info service.NdefInfo, msg []byte) nfc.Attributes {
	attrs := nfc.Attributes{
		nfc.AttrNdefForumType: forumType,
		nfc.AttrNdefTagLength: info.MaxSize,
		nfc.AttrNdefTagMode:   info.Mode,
	}
	if msg != nil {
		attrs[nfc.AttrNdefMsg] = msg
	}
	return attrs
}
