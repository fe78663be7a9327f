// Package sim provides an in-memory NFC controller with simulated tags.
//
// Tags keep real memory layouts and answer the native command frames of
// their technology, so the full client stack can run against them:
//
//	host := sim.NewHost()
//	tag := sim.NewClassicTag([]byte{0x04, 0x11, 0x22, 0x33}, 0x08, 1024)
//	ep := host.Place(manager, tag)
//	...
//	host.Take(manager, ep)
package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

type kind int

const (
	kindClassic kind = iota
	kindUltralight
	kindIso15693
	kindIsoDep
)

func (k kind) String() string {
	switch k {
	case kindClassic:
		return "classic"
	case kindUltralight:
		return "ultralight"
	case kindIso15693:
		return "iso15693"
	case kindIsoDep:
		return "isodep"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// APDUHandler answers an APDU sent to a simulated ISO-DEP tag.
type APDUHandler func(apdu []byte) []byte

// Tag is a simulated tag. All methods are safe for concurrent use.
type Tag struct {
	mu sync.Mutex

	kind   kind
	uid    []byte
	techs  []nfc.Technology
	extras map[nfc.Technology]nfc.Attributes

	mem       []byte
	blockSize int
	locked    map[int]bool

	// Mifare Classic state
	keys       map[int][2][]byte
	authSector int
	transfer   int32
	hasValue   bool

	apdu APDUHandler

	hasNdef      bool
	ndef         []byte
	ndefCapacity int
	ndefForum    int
	ndefReadOnly bool

	present bool

	// CallLog records every command the tag received.
	CallLog []string
}

func newTag(k kind, uid []byte, size, blockSize int) *Tag {
	return &Tag{
		kind:       k,
		uid:        slices.Clone(uid),
		extras:     make(map[nfc.Technology]nfc.Attributes),
		mem:        make([]byte, size),
		blockSize:  blockSize,
		locked:     make(map[int]bool),
		keys:       make(map[int][2][]byte),
		authSector: -1,
		present:    true,
	}
}

// NewClassicTag creates a Mifare Classic tag of size bytes answering with
// sak. Every sector starts with the factory default keys.
func NewClassicTag(uid []byte, sak byte, size int) *Tag {
	t := newTag(kindClassic, uid, size, 16)
	t.techs = []nfc.Technology{nfc.TechNfcA, nfc.TechMifareClassic}
	t.extras[nfc.TechNfcA] = nfc.Attributes{nfc.AttrSak: int(sak), nfc.AttrAtqa: []byte{0x04, 0x00}}
	t.extras[nfc.TechMifareClassic] = nfc.Attributes{nfc.AttrSak: int(sak)}
	copy(t.mem, uid)
	return t
}

// NewUltralightTag creates a Mifare Ultralight tag with the given number
// of 4-byte pages.
func NewUltralightTag(uid []byte, pages int, ultralightC bool) *Tag {
	t := newTag(kindUltralight, uid, pages*4, 4)
	t.techs = []nfc.Technology{nfc.TechNfcA, nfc.TechMifareUltralight}
	t.extras[nfc.TechNfcA] = nfc.Attributes{nfc.AttrSak: 0x00, nfc.AttrAtqa: []byte{0x44, 0x00}}
	t.extras[nfc.TechMifareUltralight] = nfc.Attributes{nfc.AttrMifareUltralightC: ultralightC}
	copy(t.mem, uid)
	return t
}

// NewIso15693Tag creates an ISO-15693 tag with blocks of blockSize bytes.
func NewIso15693Tag(uid []byte, blocks, blockSize int, dsfID byte) *Tag {
	t := newTag(kindIso15693, uid, blocks*blockSize, blockSize)
	t.techs = []nfc.Technology{nfc.TechNfcV}
	t.extras[nfc.TechNfcV] = nfc.Attributes{nfc.AttrDsfId: int(dsfID), nfc.AttrResponseFlags: 0}
	return t
}

// NewIsoDepTag creates an ISO 14443-4 tag. A nil handler rejects every
// instruction.
func NewIsoDepTag(uid, historicalBytes []byte, handler APDUHandler) *Tag {
	t := newTag(kindIsoDep, uid, 0, 0)
	t.techs = []nfc.Technology{nfc.TechNfcA, nfc.TechIsoDep}
	t.extras[nfc.TechNfcA] = nfc.Attributes{nfc.AttrSak: 0x20, nfc.AttrAtqa: []byte{0x44, 0x03}}
	t.extras[nfc.TechIsoDep] = nfc.Attributes{nfc.AttrHistoricalBytes: slices.Clone(historicalBytes)}
	t.apdu = handler
	return t
}

// WithNdef adds an NDEF container holding msg.
func (t *Tag) WithNdef(forumType int, msg []byte, capacity int) *Tag {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasNdef = true
	t.ndef = slices.Clone(msg)
	t.ndefCapacity = capacity
	t.ndefForum = forumType
	t.addTech(nfc.TechNdef)
	return t
}

// WithFormatable marks the tag as blank and NDEF-formatable.
func (t *Tag) WithFormatable(forumType int, capacity int) *Tag {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ndefCapacity = capacity
	t.ndefForum = forumType
	t.addTech(nfc.TechNdefFormatable)
	t.extras[nfc.TechNdefFormatable] = nfc.Attributes{nfc.AttrNdefForumType: forumType}
	return t
}

// SetSectorKeys replaces the keys of a Classic sector.
func (t *Tag) SetSectorKeys(sector int, keyA, keyB []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[sector] = [2][]byte{slices.Clone(keyA), slices.Clone(keyB)}
}

func (t *Tag) addTech(tech nfc.Technology) {
	if !slices.Contains(t.techs, tech) {
		t.techs = append(t.techs, tech)
	}
}

// Remove takes the tag out of the field.
func (t *Tag) Remove() {
	t.mu.Lock()
	t.present = false
	t.mu.Unlock()
}

// IsPresent reports whether the tag is in the field.
func (t *Tag) IsPresent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.present
}

// Memory returns a copy of the tag memory.
func (t *Tag) Memory() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.mem)
}

// Ndef returns the stored NDEF message.
func (t *Tag) Ndef() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.ndef)
}

// snapshot returns the discovery view of the tag.
func (t *Tag) snapshot() ([]byte, []nfc.Technology, map[nfc.Technology]nfc.Attributes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	extras := make(map[nfc.Technology]nfc.Attributes, len(t.extras)+1)
	for tech, attrs := range t.extras {
		extras[tech] = attrs.Clone()
	}
	if t.hasNdef {
		mode := 2
		if t.ndefReadOnly {
			mode = 1
		}
		extras[nfc.TechNdef] = nfc.Attributes{
			nfc.AttrNdefForumType: t.ndefForum,
			nfc.AttrNdefTagMode:   mode,
			nfc.AttrNdefTagLength: t.ndefCapacity,
			nfc.AttrNdefMsg:       slices.Clone(t.ndef),
		}
	}
	return slices.Clone(t.uid), slices.Clone(t.techs), extras
}

func (t *Tag) logf(format string, args ...any) {
	t.CallLog = append(t.CallLog, fmt.Sprintf(format, args...))
}

// transceive answers a native frame.
func (t *Tag) transceive(tech nfc.Technology, frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.present {
		return nil, nfc.NewTagLostError("Transceive", nil)
	}
	t.logf("Transceive(%s, % X)", tech, frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	switch t.kind {
	case kindClassic:
		return t.classic(frame)
	case kindUltralight:
		return t.ultralight(frame)
	case kindIso15693:
		return t.iso15693(frame), nil
	case kindIsoDep:
		if t.apdu == nil {
			return []byte{0x6D, 0x00}, nil
		}
		return t.apdu(frame), nil
	}
	return nil, fmt.Errorf("unsupported tag kind %s", t.kind)
}

func (t *Tag) sectorKeys(sector int) [2][]byte {
	if keys, ok := t.keys[sector]; ok {
		return keys
	}
	return [2][]byte{nfc.KeyDefault, nfc.KeyDefault}
}

func (t *Tag) classicBlock(block int) ([]byte, error) {
	if block < 0 || (block+1)*16 > len(t.mem) {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	if t.authSector != nfc.ClassicSectorOfBlock(block) {
		return nil, fmt.Errorf("sector of block %d not authenticated", block)
	}
	return t.mem[block*16 : (block+1)*16], nil
}

func (t *Tag) classic(frame []byte) ([]byte, error) {
	cmd := frame[0]
	if len(frame) < 2 {
		return nil, fmt.Errorf("short frame")
	}
	block := int(frame[1])

	switch cmd {
	case nfc.KeyTypeA, nfc.KeyTypeB:
		if len(frame) != 12 {
			return nil, fmt.Errorf("bad auth frame length %d", len(frame))
		}
		t.authSector = -1
		if !bytes.Equal(frame[2:6], t.uid[len(t.uid)-4:]) {
			return nil, fmt.Errorf("auth uid mismatch")
		}
		keys := t.sectorKeys(nfc.ClassicSectorOfBlock(block))
		key := keys[0]
		if cmd == nfc.KeyTypeB {
			key = keys[1]
		}
		if !bytes.Equal(frame[6:12], key) {
			return nil, fmt.Errorf("authentication failed for block %d", block)
		}
		t.authSector = nfc.ClassicSectorOfBlock(block)
		return []byte{}, nil

	case nfc.CmdClassicRead:
		data, err := t.classicBlock(block)
		if err != nil {
			return nil, err
		}
		return slices.Clone(data), nil

	case nfc.CmdClassicWrite:
		data, err := t.classicBlock(block)
		if err != nil {
			return nil, err
		}
		if block == 0 || len(frame) != 18 {
			return nil, fmt.Errorf("write to block %d rejected", block)
		}
		copy(data, frame[2:])
		return []byte{}, nil

	case nfc.CmdClassicIncrement, nfc.CmdClassicDecrement, nfc.CmdClassicRestore:
		data, err := t.classicBlock(block)
		if err != nil {
			return nil, err
		}
		value, ok := decodeValue(data)
		if !ok {
			return nil, fmt.Errorf("block %d is not a value block", block)
		}
		if cmd != nfc.CmdClassicRestore {
			if len(frame) != 6 {
				return nil, fmt.Errorf("bad value frame length %d", len(frame))
			}
			delta := int32(binary.LittleEndian.Uint32(frame[2:]))
			if cmd == nfc.CmdClassicDecrement {
				delta = -delta
			}
			value += delta
		}
		t.transfer, t.hasValue = value, true
		return []byte{}, nil

	case nfc.CmdClassicTransfer:
		data, err := t.classicBlock(block)
		if err != nil {
			return nil, err
		}
		if !t.hasValue {
			return nil, fmt.Errorf("transfer buffer empty")
		}
		copy(data, encodeValue(t.transfer, byte(block)))
		t.hasValue = false
		return []byte{}, nil
	}
	return nil, fmt.Errorf("unknown Classic command 0x%02X", cmd)
}

func encodeValue(value int32, addr byte) []byte {
	out := make([]byte, 16)
	v := uint32(value)
	binary.LittleEndian.PutUint32(out[0:], v)
	binary.LittleEndian.PutUint32(out[4:], ^v)
	binary.LittleEndian.PutUint32(out[8:], v)
	out[12], out[13], out[14], out[15] = addr, ^addr, addr, ^addr
	return out
}

func decodeValue(block []byte) (int32, bool) {
	v := binary.LittleEndian.Uint32(block[0:])
	if binary.LittleEndian.Uint32(block[4:]) != ^v || binary.LittleEndian.Uint32(block[8:]) != v {
		return 0, false
	}
	return int32(v), true
}

func (t *Tag) ultralight(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("short frame")
	}
	pages := len(t.mem) / 4
	page := int(frame[1])
	if page >= pages {
		return nil, fmt.Errorf("page %d out of range", page)
	}

	switch frame[0] {
	case nfc.CmdUltralightRead:
		out := make([]byte, 0, 16)
		for i := 0; i < 4; i++ {
			p := (page + i) % pages
			out = append(out, t.mem[p*4:(p+1)*4]...)
		}
		return out, nil
	case nfc.CmdUltralightWrite:
		if len(frame) != 6 {
			return nil, fmt.Errorf("bad write frame length %d", len(frame))
		}
		if page < 2 || t.locked[page] {
			return nil, fmt.Errorf("page %d is read-only", page)
		}
		copy(t.mem[page*4:], frame[2:])
		return []byte{}, nil
	}
	return nil, fmt.Errorf("unknown Ultralight command 0x%02X", frame[0])
}

// ISO-15693 error codes returned after the error flag.
const (
	iso15693ErrNotSupported = 0x01
	iso15693ErrBadFormat    = 0x02
	iso15693ErrBadBlock     = 0x10
	iso15693ErrLocked       = 0x12
)

func iso15693Error(code byte) []byte {
	return []byte{nfc.Iso15693ErrorFlag, code}
}

func (t *Tag) iso15693(frame []byte) []byte {
	n := len(t.uid)
	if len(frame) < 3+n || !bytes.Equal(frame[2:2+n], t.uid) {
		return iso15693Error(iso15693ErrBadFormat)
	}
	cmd := frame[1]
	block := int(frame[2+n])
	args := frame[3+n:]
	blocks := len(t.mem) / t.blockSize

	count := 1
	if cmd == nfc.CmdIso15693ReadMultiple || cmd == nfc.CmdIso15693WriteMultiple {
		if len(args) < 1 {
			return iso15693Error(iso15693ErrBadFormat)
		}
		count = int(args[0]) + 1
		args = args[1:]
	}
	if block+count > blocks {
		return iso15693Error(iso15693ErrBadBlock)
	}
	region := t.mem[block*t.blockSize : (block+count)*t.blockSize]

	switch cmd {
	case nfc.CmdIso15693ReadSingle, nfc.CmdIso15693ReadMultiple:
		return append([]byte{0x00}, region...)
	case nfc.CmdIso15693WriteSingle, nfc.CmdIso15693WriteMultiple:
		if len(args) != count*t.blockSize {
			return iso15693Error(iso15693ErrBadFormat)
		}
		for b := block; b < block+count; b++ {
			if t.locked[b] {
				return iso15693Error(iso15693ErrLocked)
			}
		}
		copy(region, args)
		return []byte{0x00}
	case nfc.CmdIso15693LockBlock:
		t.locked[block] = true
		return []byte{0x00}
	}
	return iso15693Error(iso15693ErrNotSupported)
}
