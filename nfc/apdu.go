package nfc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	SW1Success = 0x90
	SW2Success = 0x00

	SWFileNotFound  = 0x6A82
	SWInsNotSupport = 0x6D00
)

// CLAPCSC marks reader pseudo-APDUs that the PC/SC reader handles itself
// instead of forwarding them to the tag.
const (
	claInterindustry = 0x00
	CLAPCSC          = 0xFF
)

// Instruction bytes of the commands the readers and tags here understand.
const (
	INSGetUID     = 0xCA
	INSLoadKey    = 0x82
	INSAuth       = 0x86
	INSReadBinary = 0xB0
	INSUpdateBin  = 0xD6
	INSDirectCmd  = 0x00
	INSSelectFile = 0xA4
)

// MinAIDLength and MaxAIDLength bound an application identifier.
const (
	MinAIDLength = 5
	MaxAIDLength = 16
)

// command is a short-form APDU. A negative le leaves the Le byte off.
type command struct {
	cla, ins, p1, p2 byte
	data             []byte
	le               int
}

func (c command) bytes() []byte {
	out := make([]byte, 0, 6+len(c.data))
	out = append(out, c.cla, c.ins, c.p1, c.p2)
	if len(c.data) > 0 {
		out = append(out, byte(len(c.data)))
		out = append(out, c.data...)
	}
	if c.le >= 0 {
		out = append(out, byte(c.le))
	}
	return out
}

// APDUResponse is a response split into its body and trailing status word.
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// Error is nil for 90 00 and for 61 xx, where the tag has more to send.
func (r APDUResponse) Error() error {
	if r.IsSuccess() || r.SW1 == 0x61 {
		return nil
	}
	return fmt.Errorf("status word %04X", r.StatusWord())
}

// ParseAPDUResponse splits raw into body and status word.
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	n := len(raw)
	if n < 2 {
		return APDUResponse{}, errors.New("response shorter than a status word")
	}
	return APDUResponse{Data: raw[:n-2], SW1: raw[n-2], SW2: raw[n-1]}, nil
}

func GetUIDAPDU() []byte {
	return command{cla: CLAPCSC, ins: INSGetUID}.bytes()
}

// LoadKeyAPDU stores a six byte Mifare key in reader slot. It returns nil
// for keys of any other length.
func LoadKeyAPDU(slot byte, key []byte) []byte {
	if len(key) != len(KeyDefault) {
		return nil
	}
	return command{cla: CLAPCSC, ins: INSLoadKey, p2: slot, data: key, le: -1}.bytes()
}

// MIFAREAuthAPDU authenticates block with the key held in slot. keyType is
// KeyTypeA or KeyTypeB.
func MIFAREAuthAPDU(block, keyType, slot byte) []byte {
	auth := []byte{0x01, 0x00, block, keyType, slot}
	return command{cla: CLAPCSC, ins: INSAuth, data: auth, le: -1}.bytes()
}

// ReadBinaryAPDU reads n bytes of the block or page addr.
func ReadBinaryAPDU(addr, n byte) []byte {
	return command{cla: CLAPCSC, ins: INSReadBinary, p2: addr, le: int(n)}.bytes()
}

func UpdateBinaryAPDU(addr byte, data []byte) []byte {
	return command{cla: CLAPCSC, ins: INSUpdateBin, p2: addr, data: data, le: -1}.bytes()
}

// DirectTransmitAPDU wraps a native tag frame so the reader passes it
// through unchanged.
func DirectTransmitAPDU(frame []byte) []byte {
	return command{cla: CLAPCSC, ins: INSDirectCmd, data: frame}.bytes()
}

// SelectFileByAIDAPDU selects an application by name.
func SelectFileByAIDAPDU(aid []byte) []byte {
	return command{cla: claInterindustry, ins: INSSelectFile, p1: 0x04, data: aid}.bytes()
}

// BytesToHex formats data as upper case hex without separators.
func BytesToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// HexToBytes accepts either case.
func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
