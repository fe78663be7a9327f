package libnfc

import (
	"fmt"
	"slices"
	"sync"

	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	nfctag "github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// device is the part of nfc.Device an endpoint uses.
type device interface {
	InitiatorSelectPassiveTarget(m nfc.Modulation, initData []byte) (nfc.Target, error)
	InitiatorTargetIsPresent(t nfc.Target) error
	InitiatorDeselectTarget() error
	InitiatorTransceiveBytes(tx, rx []byte, timeout int) (n int, err error)
}

// bus serializes access to the reader. libnfc devices are not safe for
// concurrent use.
type bus struct {
	mu  sync.Mutex
	dev device
}

// classicTag and ultralightTag are implemented by the freefare adapters in
// freefare.go.
type classicTag interface {
	Connect() error
	Disconnect() error
	Authenticate(block byte, key [6]byte, keyType byte) error
	ReadBlock(block byte) ([16]byte, error)
	WriteBlock(block byte, data [16]byte) error
}

type ultralightTag interface {
	Connect() error
	Disconnect() error
	ReadPage(page byte) ([4]byte, error)
	WritePage(page byte, data [4]byte) error
}

var modISO14443a = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}

// maxFrame is the largest frame a PN53x exchanges.
const maxFrame = 264

// Endpoint is an ISO 14443-A tag on a libnfc reader. Native frames go to the
// tag through the controller, which handles Crypto1 after a Classic
// authentication. NDEF access uses libfreefare for Classic and Ultralight
// tags.
type Endpoint struct {
	handle int
	bus    *bus
	target nfc.Target
	uid    []byte
	kind   tagKind
	size   int

	classic    classicTag
	ultralight ultralightTag

	mu        sync.Mutex
	techs     []nfctag.Technology
	extras    map[nfctag.Technology]nfctag.Attributes
	connected nfctag.Technology
	selected  bool
	removed   bool
	timeouts  map[nfctag.Technology]int
}

var (
	_ service.TagEndpoint    = (*Endpoint)(nil)
	_ service.TimeoutSetter  = (*Endpoint)(nil)
	_ hardware.Type2Pages    = (*Endpoint)(nil)
	_ hardware.ClassicBlocks = (*Endpoint)(nil)
)

func newEndpoint(handle int, b *bus, target nfc.Target, uid []byte, p profile) *Endpoint {
	return &Endpoint{
		handle:   handle,
		bus:      b,
		target:   target,
		uid:      uid,
		kind:     p.kind,
		size:     p.size,
		techs:    p.techs,
		extras:   p.extras,
		timeouts: make(map[nfctag.Technology]int),
	}
}

func (e *Endpoint) Handle() int { return e.handle }

func (e *Endpoint) UID() []byte { return slices.Clone(e.uid) }

func (e *Endpoint) TechList() []nfctag.Technology {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.techs)
}

func (e *Endpoint) Extras() map[nfctag.Technology]nfctag.Attributes {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[nfctag.Technology]nfctag.Attributes, len(e.extras))
	for t, a := range e.extras {
		out[t] = a.Clone()
	}
	return out
}

// refreshNdef adds Ndef or NdefFormatable according to the NDEF container
// found on a Classic or Ultralight tag.
func (e *Endpoint) refreshNdef() {
	var forumType int
	switch e.kind {
	case kindClassic:
		forumType = hardware.NdefForumTypeClassic
	case kindUltralight:
		forumType = hardware.NdefForumType2
	default:
		return
	}
	info, err := e.CheckNdef()
	if err != nil {
		return
	}
	var attrs nfctag.Attributes
	if info.Supported {
		msg, _ := e.ReadNdef()
		attrs = hardware.NdefAttributes(forumType, info, msg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.techs = slices.DeleteFunc(e.techs, func(t nfctag.Technology) bool {
		return t == nfctag.TechNdef || t == nfctag.TechNdefFormatable
	})
	delete(e.extras, nfctag.TechNdef)
	delete(e.extras, nfctag.TechNdefFormatable)
	if attrs == nil {
		e.techs = append(e.techs, nfctag.TechNdefFormatable)
		e.extras[nfctag.TechNdefFormatable] = nfctag.Attributes{nfctag.AttrNdefForumType: forumType}
		return
	}
	e.techs = append(e.techs, nfctag.TechNdef)
	e.extras[nfctag.TechNdef] = attrs
}

func (e *Endpoint) Connect(tech nfctag.Technology) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nfctag.NewTagLostError("Connect", nil)
	}
	if !slices.Contains(e.techs, tech) {
		return fmt.Errorf("technology %s not available", tech)
	}
	if !e.selected {
		e.bus.mu.Lock()
		err := e.selectLocked()
		e.bus.mu.Unlock()
		if err != nil {
			return err
		}
		e.selected = true
	}
	e.connected = tech
	return nil
}

// selectLocked activates the tag. Callers hold e.mu and the bus lock.
func (e *Endpoint) selectLocked() error {
	var err error
	switch {
	case e.classic != nil:
		err = e.classic.Connect()
	case e.ultralight != nil:
		err = e.ultralight.Connect()
	default:
		_, err = e.bus.dev.InitiatorSelectPassiveTarget(modISO14443a, e.uid)
	}
	if err != nil {
		return fmt.Errorf("select tag: %w", err)
	}
	return nil
}

func (e *Endpoint) deselectLocked() error {
	switch {
	case e.classic != nil:
		return e.classic.Disconnect()
	case e.ultralight != nil:
		return e.ultralight.Disconnect()
	}
	return e.bus.dev.InitiatorDeselectTarget()
}

func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = nfctag.TechUnknown
	if !e.selected || e.removed {
		e.selected = false
		return nil
	}
	e.selected = false
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	return e.deselectLocked()
}

// Reconnect deselects and selects the tag again, which drops any Classic
// authentication.
func (e *Endpoint) Reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nfctag.NewTagLostError("Reconnect", nil)
	}
	if e.connected == nfctag.TechUnknown {
		return fmt.Errorf("not connected")
	}
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.selected {
		_ = e.deselectLocked()
	}
	if err := e.selectLocked(); err != nil {
		e.selected = false
		return err
	}
	e.selected = true
	return nil
}

func (e *Endpoint) ConnectedTechnology() (nfctag.Technology, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected, e.connected != nfctag.TechUnknown
}

// SetTimeout sets the exchange timeout in milliseconds used while tech is
// connected. 0 waits forever.
func (e *Endpoint) SetTimeout(tech nfctag.Technology, ms int) {
	e.mu.Lock()
	e.timeouts[tech] = ms
	e.mu.Unlock()
}

func (e *Endpoint) Transceive(data []byte, raw bool) ([]byte, error) {
	e.mu.Lock()
	tech, removed := e.connected, e.removed
	timeout := e.timeouts[tech]
	e.mu.Unlock()
	if removed {
		return nil, nfctag.NewTagLostError("Transceive", nil)
	}
	if tech == nfctag.TechUnknown {
		return nil, fmt.Errorf("not connected")
	}
	if tech == nfctag.TechMifareClassic {
		data = classicFrame(data)
	}
	return e.exchange(data, timeout)
}

// classicFrame reorders a Classic frame for the controller: authentication
// carries the key before the UID, and restore needs a dummy operand.
func classicFrame(frame []byte) []byte {
	switch {
	case len(frame) == 12 && (frame[0] == nfctag.KeyTypeA || frame[0] == nfctag.KeyTypeB):
		out := append([]byte{frame[0], frame[1]}, frame[6:12]...)
		return append(out, frame[2:6]...)
	case len(frame) == 2 && frame[0] == nfctag.CmdClassicRestore:
		return append(slices.Clone(frame), 0, 0, 0, 0)
	}
	return frame
}

// exchange sends one frame. A failed exchange to a tag that no longer
// answers is reported as a lost tag.
func (e *Endpoint) exchange(tx []byte, timeout int) ([]byte, error) {
	rx := make([]byte, maxFrame)
	e.bus.mu.Lock()
	n, err := e.bus.dev.InitiatorTransceiveBytes(tx, rx, timeout)
	lost := err != nil && e.bus.dev.InitiatorTargetIsPresent(e.target) != nil
	e.bus.mu.Unlock()
	switch {
	case lost:
		e.markRemoved()
		return nil, nfctag.NewTagLostError("Transceive", err)
	case err != nil:
		return nil, fmt.Errorf("transceive: %w", err)
	}
	return rx[:n], nil
}

func (e *Endpoint) markRemoved() {
	e.mu.Lock()
	e.removed = true
	e.connected = nfctag.TechUnknown
	e.selected = false
	e.mu.Unlock()
}

func (e *Endpoint) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

// PresenceCheck asks the controller whether the tag still answers. A tag
// that is not selected is selected by UID and released again.
func (e *Endpoint) PresenceCheck() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	e.bus.mu.Lock()
	present := e.probeLocked()
	e.bus.mu.Unlock()
	if !present {
		e.removed = true
		e.connected = nfctag.TechUnknown
		e.selected = false
	}
	return present
}

func (e *Endpoint) probeLocked() bool {
	if e.selected {
		return e.bus.dev.InitiatorTargetIsPresent(e.target) == nil
	}
	if _, err := e.bus.dev.InitiatorSelectPassiveTarget(modISO14443a, e.uid); err != nil {
		return false
	}
	_ = e.bus.dev.InitiatorDeselectTarget()
	return true
}

func (e *Endpoint) IsPresent() bool { return !e.isRemoved() }

// withTag runs fn with the tag selected and the bus held, selecting it for
// the call when no technology is connected.
func (e *Endpoint) withTag(op string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nfctag.NewTagLostError(op, nil)
	}
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if !e.selected {
		if err := e.selectLocked(); err != nil {
			return err
		}
		defer func() { _ = e.deselectLocked() }()
	}
	err := fn()
	if err != nil && !nfctag.IsTagLostError(err) && e.bus.dev.InitiatorTargetIsPresent(e.target) != nil {
		e.removed = true
		e.connected = nfctag.TechUnknown
		e.selected = false
		return nfctag.NewTagLostError(op, err)
	}
	return err
}

// Authenticate implements hardware.ClassicBlocks.
func (e *Endpoint) Authenticate(block int, keyType byte, key []byte) error {
	if e.classic == nil {
		return nfctag.NewNotSupportedError("Authenticate")
	}
	var k [6]byte
	copy(k[:], key)
	return e.classic.Authenticate(byte(block), k, keyType)
}

// ReadBlock implements hardware.ClassicBlocks.
func (e *Endpoint) ReadBlock(block int) ([]byte, error) {
	if e.classic == nil {
		return nil, nfctag.NewNotSupportedError("ReadBlock")
	}
	data, err := e.classic.ReadBlock(byte(block))
	if err != nil {
		return nil, err
	}
	return data[:], nil
}

// WriteBlock implements hardware.ClassicBlocks.
func (e *Endpoint) WriteBlock(block int, data []byte) error {
	if e.classic == nil {
		return nfctag.NewNotSupportedError("WriteBlock")
	}
	if len(data) != hardware.ClassicBlockSize {
		return nfctag.NewInvalidParamError("WriteBlock", "block data must be %d bytes, got %d", hardware.ClassicBlockSize, len(data))
	}
	var buf [16]byte
	copy(buf[:], data)
	return e.classic.WriteBlock(byte(block), buf)
}

// ReadPages implements hardware.Type2Pages. Pages past the end of the tag
// read as zeros.
func (e *Endpoint) ReadPages(page int) ([]byte, error) {
	if e.ultralight == nil {
		return nil, nfctag.NewNotSupportedError("ReadPages")
	}
	out := make([]byte, 0, 4*hardware.Type2PageSize)
	for i := 0; i < 4; i++ {
		data, err := e.ultralight.ReadPage(byte(page + i))
		if err != nil {
			if i == 0 {
				return nil, err
			}
			data = [4]byte{}
		}
		out = append(out, data[:]...)
	}
	return out, nil
}

// WritePage implements hardware.Type2Pages.
func (e *Endpoint) WritePage(page int, data []byte) error {
	if e.ultralight == nil {
		return nfctag.NewNotSupportedError("WritePage")
	}
	if len(data) != hardware.Type2PageSize {
		return nfctag.NewInvalidParamError("WritePage", "page data must be %d bytes, got %d", hardware.Type2PageSize, len(data))
	}
	var buf [4]byte
	copy(buf[:], data)
	return e.ultralight.WritePage(byte(page), buf)
}

func (e *Endpoint) layout() hardware.ClassicLayout {
	return hardware.ClassicLayoutForSize(e.size)
}

func (e *Endpoint) ReadNdef() ([]byte, error) {
	const op = "ReadNdef"
	var msg []byte
	var err error
	switch e.kind {
	case kindClassic:
		l := e.layout()
		err = e.withTag(op, func() (ferr error) {
			msg, ferr = hardware.ReadClassicNdef(e, l)
			return ferr
		})
	case kindUltralight:
		err = e.withTag(op, func() (ferr error) {
			msg, ferr = hardware.ReadType2Ndef(e)
			return ferr
		})
	default:
		return nil, nfctag.NewNotSupportedError(op)
	}
	return msg, err
}

func (e *Endpoint) WriteNdef(data []byte) error {
	const op = "WriteNdef"
	var err error
	switch e.kind {
	case kindClassic:
		l := e.layout()
		err = e.withTag(op, func() error { return hardware.WriteClassicNdef(e, l, data) })
	case kindUltralight:
		err = e.withTag(op, func() error { return hardware.WriteType2Ndef(e, data) })
	default:
		return nfctag.NewNotSupportedError(op)
	}
	if err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

// FormatNdef formats a Classic tag whose sectors open with key as key A,
// or writes a capability container to an Ultralight tag.
func (e *Endpoint) FormatNdef(key []byte) error {
	const op = "FormatNdef"
	if len(key) != 6 {
		return nfctag.NewInvalidParamError(op, "key must be 6 bytes, got %d", len(key))
	}
	var err error
	switch e.kind {
	case kindClassic:
		l := e.layout()
		err = e.withTag(op, func() error { return hardware.FormatClassic(e, l, key) })
	case kindUltralight:
		err = e.withTag(op, func() error { return hardware.FormatType2(e, e.size) })
	default:
		return nfctag.NewNotSupportedError(op)
	}
	if err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

func (e *Endpoint) MakeReadOnly() error {
	const op = "MakeReadOnly"
	if e.kind != kindUltralight {
		return nfctag.NewNotSupportedError(op)
	}
	if err := e.withTag(op, func() error { return hardware.LockType2(e) }); err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

func (e *Endpoint) CheckNdef() (service.NdefInfo, error) {
	const op = "CheckNdef"
	var info service.NdefInfo
	var err error
	switch e.kind {
	case kindClassic:
		l := e.layout()
		err = e.withTag(op, func() (ferr error) {
			info, ferr = hardware.CheckClassic(e, l)
			return ferr
		})
	case kindUltralight:
		err = e.withTag(op, func() (ferr error) {
			info, ferr = hardware.CheckType2(e)
			return ferr
		})
	}
	return info, err
}
