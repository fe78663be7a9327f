package tag

import (
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// Iso15693 (NFC-V, Type 5) limits.
const (
	Iso15693MaxFlag       = 256
	Iso15693MaxBlockIndex = 256
	Iso15693MaxBlockNum   = 256
)

// Iso15693Tag gives block access to an ISO-15693 tag.
type Iso15693Tag struct {
	BasicTagSession
	dsfID     int
	respFlags int
}

// NewIso15693Tag creates the ISO-15693 facade for the tag at ref.
func NewIso15693Tag(table *Table, ref Ref) (*Iso15693Tag, error) {
	h, err := resolve(table, ref, nfc.TechNfcV, "NewIso15693Tag")
	if err != nil {
		return nil, err
	}
	attrs := h.Attributes(nfc.TechNfcV)
	return &Iso15693Tag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechNfcV),
		dsfID:           attrs.IntOr(nfc.AttrDsfId, 0),
		respFlags:       attrs.IntOr(nfc.AttrResponseFlags, 0),
	}, nil
}

// DsfId returns the data storage format identifier reported at discovery.
func (t *Iso15693Tag) DsfId() int {
	return t.dsfID
}

// RespFlags returns the response flags reported at discovery.
func (t *Iso15693Tag) RespFlags() int {
	return t.respFlags
}

func (t *Iso15693Tag) frame(flag int, cmd byte, blockIndex int, extra ...byte) []byte {
	uid := t.TagID()
	out := make([]byte, 0, 3+len(uid)+len(extra))
	out = append(out, byte(flag), cmd)
	out = append(out, uid...)
	out = append(out, byte(blockIndex))
	return append(out, extra...)
}

func (t *Iso15693Tag) transceive(op string, frame []byte) ([]byte, error) {
	resp, err := t.SendCommand(frame, false)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nfc.Errorf(nfc.ErrCodeFailure, op, "empty response")
	}
	if resp[0]&nfc.Iso15693ErrorFlag != 0 {
		if len(resp) > 1 {
			return nil, nfc.Errorf(nfc.ErrCodeFailure, op, "tag error 0x%02X", resp[1])
		}
		return nil, nfc.NewError(nfc.ErrCodeFailure, op)
	}
	return resp[1:], nil
}

func checkFlagAndBlock(op string, flag, blockIndex int) error {
	if err := checkIndex(op, "flag", flag, Iso15693MaxFlag); err != nil {
		return err
	}
	return checkIndex(op, "block index", blockIndex, Iso15693MaxBlockIndex)
}

// ReadSingleBlock reads one block.
func (t *Iso15693Tag) ReadSingleBlock(flag, blockIndex int) ([]byte, error) {
	const op = "ReadSingleBlock"
	if err := checkFlagAndBlock(op, flag, blockIndex); err != nil {
		return nil, err
	}
	return t.transceive(op, t.frame(flag, nfc.CmdIso15693ReadSingle, blockIndex))
}

// WriteSingleBlock writes one block.
func (t *Iso15693Tag) WriteSingleBlock(flag, blockIndex int, data []byte) error {
	const op = "WriteSingleBlock"
	if err := checkFlagAndBlock(op, flag, blockIndex); err != nil {
		return err
	}
	if len(data) == 0 {
		return nfc.NewInvalidParamError(op, "data must not be empty")
	}
	_, err := t.transceive(op, t.frame(flag, nfc.CmdIso15693WriteSingle, blockIndex, data...))
	return err
}

// LockSingleBlock permanently locks one block. This cannot be undone.
func (t *Iso15693Tag) LockSingleBlock(flag, blockIndex int) error {
	const op = "LockSingleBlock"
	if err := checkFlagAndBlock(op, flag, blockIndex); err != nil {
		return err
	}
	_, err := t.transceive(op, t.frame(flag, nfc.CmdIso15693LockBlock, blockIndex))
	return err
}

func checkBlockRange(op string, blockIndex, blockNum int) error {
	if blockNum < 1 || blockNum > Iso15693MaxBlockNum {
		return nfc.NewInvalidParamError(op, "block count %d out of range [1, %d]", blockNum, Iso15693MaxBlockNum)
	}
	if blockIndex+blockNum > Iso15693MaxBlockIndex {
		return nfc.NewInvalidParamError(op, "blocks %d..%d exceed %d", blockIndex, blockIndex+blockNum-1, Iso15693MaxBlockIndex-1)
	}
	return nil
}

// ReadMultipleBlock reads blockNum consecutive blocks.
func (t *Iso15693Tag) ReadMultipleBlock(flag, blockIndex, blockNum int) ([]byte, error) {
	const op = "ReadMultipleBlock"
	if err := checkFlagAndBlock(op, flag, blockIndex); err != nil {
		return nil, err
	}
	if err := checkBlockRange(op, blockIndex, blockNum); err != nil {
		return nil, err
	}
	return t.transceive(op, t.frame(flag, nfc.CmdIso15693ReadMultiple, blockIndex, byte(blockNum-1)))
}

// WriteMultipleBlock writes blockNum consecutive blocks. data must split
// evenly across the blocks.
func (t *Iso15693Tag) WriteMultipleBlock(flag, blockIndex, blockNum int, data []byte) error {
	const op = "WriteMultipleBlock"
	if err := checkFlagAndBlock(op, flag, blockIndex); err != nil {
		return err
	}
	if err := checkBlockRange(op, blockIndex, blockNum); err != nil {
		return err
	}
	if len(data) == 0 || len(data)%blockNum != 0 {
		return nfc.NewInvalidParamError(op, "%d bytes do not fill %d blocks", len(data), blockNum)
	}
	extra := append([]byte{byte(blockNum - 1)}, data...)
	_, err := t.transceive(op, t.frame(flag, nfc.CmdIso15693WriteMultiple, blockIndex, extra...))
	return err
}
