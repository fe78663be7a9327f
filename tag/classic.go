package tag

import (
	"encoding/binary"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// Mifare Classic geometry.
const (
	ClassicBlockSize      = nfc.ClassicBlockSize
	ClassicMaxBlockIndex  = 256
	ClassicKeyLength      = 6
	ClassicSizeMini       = 320
	ClassicSize1K         = 1024
	ClassicSize2K         = 2048
	ClassicSize4K         = 4096
	ClassicMaxSectorCount = 40
)

// MifareType is the Mifare family derived from the SAK.
type MifareType int

const (
	MifareTypeUnknown MifareType = iota
	MifareTypeClassic
	MifareTypePlus
	MifareTypePro
)

func (m MifareType) String() string {
	switch m {
	case MifareTypeClassic:
		return "Classic"
	case MifareTypePlus:
		return "Plus"
	case MifareTypePro:
		return "Pro"
	default:
		return "Unknown"
	}
}

// ClassicProfile is what a SAK value says about a Mifare tag.
type ClassicProfile struct {
	Type     MifareType
	Size     int
	Emulated bool
}

// ClassicProfileFromSak maps a SAK to its Mifare profile. Unlisted values
// yield MifareTypeUnknown and size 0.
func ClassicProfileFromSak(sak int) ClassicProfile {
	switch sak {
	case 0x01, 0x08, 0x88:
		return ClassicProfile{Type: MifareTypeClassic, Size: ClassicSize1K}
	case 0x09:
		return ClassicProfile{Type: MifareTypeClassic, Size: ClassicSizeMini}
	case 0x10:
		return ClassicProfile{Type: MifareTypePlus, Size: ClassicSize2K}
	case 0x11:
		return ClassicProfile{Type: MifareTypePlus, Size: ClassicSize4K}
	case 0x18:
		return ClassicProfile{Type: MifareTypeClassic, Size: ClassicSize4K}
	case 0x28:
		return ClassicProfile{Type: MifareTypeClassic, Size: ClassicSize1K, Emulated: true}
	case 0x38:
		return ClassicProfile{Type: MifareTypeClassic, Size: ClassicSize4K, Emulated: true}
	case 0x98, 0xB8:
		return ClassicProfile{Type: MifareTypePro, Size: ClassicSize4K}
	}
	return ClassicProfile{Type: MifareTypeUnknown}
}

// MifareClassicTag gives sector and block access to a Mifare Classic tag.
type MifareClassicTag struct {
	BasicTagSession
	profile ClassicProfile
}

// NewMifareClassicTag creates the Mifare Classic facade for the tag at ref.
func NewMifareClassicTag(table *Table, ref Ref) (*MifareClassicTag, error) {
	h, err := resolve(table, ref, nfc.TechMifareClassic, "NewMifareClassicTag")
	if err != nil {
		return nil, err
	}
	sak, ok := h.Attributes(nfc.TechMifareClassic).Int(nfc.AttrSak)
	if !ok {
		sak = h.Attributes(nfc.TechNfcA).IntOr(nfc.AttrSak, -1)
	}
	return &MifareClassicTag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechMifareClassic),
		profile:         ClassicProfileFromSak(sak),
	}, nil
}

// MifareTagType returns the Mifare family.
func (t *MifareClassicTag) MifareTagType() MifareType { return t.profile.Type }

// Size returns the memory size in bytes.
func (t *MifareClassicTag) Size() int { return t.profile.Size }

// IsEmulated reports whether the tag is an emulated Classic.
func (t *MifareClassicTag) IsEmulated() bool { return t.profile.Emulated }

// SectorCount returns the number of sectors.
func (t *MifareClassicTag) SectorCount() int { return nfc.ClassicSectorCount(t.profile.Size) }

// BlockCount returns the number of blocks.
func (t *MifareClassicTag) BlockCount() int { return t.profile.Size / ClassicBlockSize }

// BlockCountInSector returns the number of blocks in sector.
func (t *MifareClassicTag) BlockCountInSector(sector int) (int, error) {
	if err := checkIndex("BlockCountInSector", "sector", sector, t.SectorCount()); err != nil {
		return 0, err
	}
	return nfc.ClassicSectorBlockCount(sector), nil
}

// BlockIndexFromSector returns the first block of sector.
func (t *MifareClassicTag) BlockIndexFromSector(sector int) (int, error) {
	if err := checkIndex("BlockIndexFromSector", "sector", sector, t.SectorCount()); err != nil {
		return 0, err
	}
	return nfc.ClassicSectorFirstBlock(sector), nil
}

// SectorIndexFromBlock returns the sector that contains block.
func (t *MifareClassicTag) SectorIndexFromBlock(block int) (int, error) {
	if err := checkIndex("SectorIndexFromBlock", "block index", block, t.BlockCount()); err != nil {
		return 0, err
	}
	return nfc.ClassicSectorOfBlock(block), nil
}

// AuthenticateSector authenticates sector with key A or key B.
func (t *MifareClassicTag) AuthenticateSector(sector int, key []byte, isKeyA bool) error {
	const op = "AuthenticateSector"
	firstBlock, err := t.BlockIndexFromSector(sector)
	if err != nil {
		return nfc.Errorf(nfc.ErrCodeInvalidParam, op, "sector %d out of range [0, %d)", sector, t.SectorCount())
	}
	if len(key) != ClassicKeyLength {
		return nfc.NewInvalidParamError(op, "key must be %d bytes, got %d", ClassicKeyLength, len(key))
	}

	uid := t.TagID()
	if len(uid) < 4 {
		return nfc.NewDisconnectedError(op)
	}
	cmd := byte(nfc.KeyTypeB)
	if isKeyA {
		cmd = nfc.KeyTypeA
	}
	frame := make([]byte, 0, 2+4+ClassicKeyLength)
	frame = append(frame, cmd, byte(firstBlock))
	frame = append(frame, uid[len(uid)-4:]...)
	frame = append(frame, key...)

	if _, err := t.SendCommand(frame, false); err != nil {
		return err
	}
	return nil
}

func (t *MifareClassicTag) checkBlock(op string, block int) error {
	return checkIndex(op, "block index", block, t.BlockCount())
}

// ReadSingleBlock reads one 16-byte block.
func (t *MifareClassicTag) ReadSingleBlock(block int) ([]byte, error) {
	const op = "ReadSingleBlock"
	if err := t.checkBlock(op, block); err != nil {
		return nil, err
	}
	resp, err := t.SendCommand([]byte{nfc.CmdClassicRead, byte(block)}, false)
	if err != nil {
		return nil, err
	}
	if len(resp) != ClassicBlockSize {
		return nil, nfc.Errorf(nfc.ErrCodeFailure, op, "expected %d bytes, got %d", ClassicBlockSize, len(resp))
	}
	return resp, nil
}

// WriteSingleBlock writes one 16-byte block.
func (t *MifareClassicTag) WriteSingleBlock(block int, data []byte) error {
	const op = "WriteSingleBlock"
	if err := t.checkBlock(op, block); err != nil {
		return err
	}
	if len(data) != ClassicBlockSize {
		return nfc.NewInvalidParamError(op, "block data must be %d bytes, got %d", ClassicBlockSize, len(data))
	}
	frame := append([]byte{nfc.CmdClassicWrite, byte(block)}, data...)
	_, err := t.SendCommand(frame, false)
	return err
}

func (t *MifareClassicTag) valueOp(op string, cmd byte, block, value int) error {
	if err := t.checkBlock(op, block); err != nil {
		return err
	}
	if value < 0 || int64(value) > int64(^uint32(0)>>1) {
		return nfc.NewInvalidParamError(op, "value %d out of range", value)
	}
	frame := make([]byte, 2, 6)
	frame[0], frame[1] = cmd, byte(block)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(value))
	_, err := t.SendCommand(frame, false)
	return err
}

// IncrementBlock adds value to a value block into the transfer buffer.
// Nothing is stored until TransferToBlock.
func (t *MifareClassicTag) IncrementBlock(block, value int) error {
	return t.valueOp("IncrementBlock", nfc.CmdClassicIncrement, block, value)
}

// DecrementBlock subtracts value from a value block into the transfer
// buffer. Nothing is stored until TransferToBlock.
func (t *MifareClassicTag) DecrementBlock(block, value int) error {
	return t.valueOp("DecrementBlock", nfc.CmdClassicDecrement, block, value)
}

// TransferToBlock stores the transfer buffer in block.
func (t *MifareClassicTag) TransferToBlock(block int) error {
	const op = "TransferToBlock"
	if err := t.checkBlock(op, block); err != nil {
		return err
	}
	_, err := t.SendCommand([]byte{nfc.CmdClassicTransfer, byte(block)}, false)
	return err
}

// RestoreFromBlock loads a value block into the transfer buffer.
func (t *MifareClassicTag) RestoreFromBlock(block int) error {
	const op = "RestoreFromBlock"
	if err := t.checkBlock(op, block); err != nil {
		return err
	}
	_, err := t.SendCommand([]byte{nfc.CmdClassicRestore, byte(block)}, false)
	return err
}

// EncodeValueBlock builds the 16-byte value block layout for value stored
// at address addr.
func EncodeValueBlock(value int32, addr byte) []byte {
	out := make([]byte, ClassicBlockSize)
	v := uint32(value)
	binary.LittleEndian.PutUint32(out[0:], v)
	binary.LittleEndian.PutUint32(out[4:], ^v)
	binary.LittleEndian.PutUint32(out[8:], v)
	out[12], out[13], out[14], out[15] = addr, ^addr, addr, ^addr
	return out
}

// DecodeValueBlock parses a value block, reporting false when the
// redundant copies disagree.
func DecodeValueBlock(block []byte) (int32, bool) {
	if len(block) != ClassicBlockSize {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(block[0:])
	if binary.LittleEndian.Uint32(block[4:]) != ^v || binary.LittleEndian.Uint32(block[8:]) != v {
		return 0, false
	}
	if block[12] != ^block[13] || block[12] != block[14] || block[13] != block[15] {
		return 0, false
	}
	return int32(v), true
}
