package pcsc

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// card is the part of *scard.Card an endpoint uses.
type card interface {
	Transmit(cmd []byte) ([]byte, error)
	Reconnect(mode scard.ShareMode, proto scard.Protocol, init scard.Disposition) error
	Disconnect(d scard.Disposition) error
}

// Endpoint is a card on a PC/SC reader. Native frames of Mifare Classic
// and Type 2 cards are translated to the reader's storage card pseudo
// APDUs; ISO-DEP frames go to the card unchanged.
type Endpoint struct {
	handle   int
	reader   string
	card     card
	cardType CardType
	uid      []byte

	mu        sync.Mutex
	techs     []nfc.Technology
	extras    map[nfc.Technology]nfc.Attributes
	connected nfc.Technology
	removed   bool
}

var (
	_ service.TagEndpoint    = (*Endpoint)(nil)
	_ hardware.Type2Pages    = (*Endpoint)(nil)
	_ hardware.ClassicBlocks = (*Endpoint)(nil)
)

func newEndpoint(handle int, reader string, c card, atr []byte) (*Endpoint, error) {
	e := &Endpoint{handle: handle, reader: reader, card: c}

	uid, err := e.command(nfc.GetUIDAPDU())
	if err != nil {
		return nil, fmt.Errorf("GET UID failed: %w", err)
	}
	e.uid = uid

	e.cardType = DetectCardType(atr)
	if e.cardType == CardUnknown || e.cardType == CardUltralight {
		// GET_VERSION tells NTAG and Ultralight EV1 apart from the
		// plain Ultralight the reader reports for all of them.
		if version, err := e.command(nfc.DirectTransmitAPDU([]byte{0x60})); err == nil {
			if t := ParseGetVersion(version); t != CardUnknown {
				e.cardType = t
			}
		}
	}
	if e.cardType == CardUnknown {
		return nil, fmt.Errorf("unsupported card (ATR %s)", nfc.BytesToHex(atr))
	}

	p := profileFor(e.cardType, atr)
	e.techs = p.techs
	e.extras = p.extras
	if e.cardType.IsType2() || e.cardType.IsClassic() {
		e.refreshNdef()
	}
	return e, nil
}

// refreshNdef adds Ndef or NdefFormatable to a storage card according to
// the NDEF container found on it.
func (e *Endpoint) refreshNdef() {
	forumType := hardware.NdefForumType2
	if e.cardType.IsClassic() {
		forumType = hardware.NdefForumTypeClassic
	}
	info, err := e.CheckNdef()
	if err != nil {
		log.Printf("pcsc: %s: check NDEF container: %v", e.reader, err)
		return
	}
	var attrs nfc.Attributes
	if info.Supported {
		msg, _ := e.ReadNdef()
		attrs = hardware.NdefAttributes(forumType, info, msg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.techs = slices.DeleteFunc(e.techs, func(t nfc.Technology) bool {
		return t == nfc.TechNdef || t == nfc.TechNdefFormatable
	})
	delete(e.extras, nfc.TechNdef)
	delete(e.extras, nfc.TechNdefFormatable)
	if attrs == nil {
		e.techs = append(e.techs, nfc.TechNdefFormatable)
		e.extras[nfc.TechNdefFormatable] = nfc.Attributes{nfc.AttrNdefForumType: forumType}
		return
	}
	e.techs = append(e.techs, nfc.TechNdef)
	e.extras[nfc.TechNdef] = attrs
}

func (e *Endpoint) Handle() int { return e.handle }

func (e *Endpoint) UID() []byte { return slices.Clone(e.uid) }

// CardType returns the detected card family.
func (e *Endpoint) CardType() CardType { return e.cardType }

func (e *Endpoint) TechList() []nfc.Technology {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.techs)
}

func (e *Endpoint) Extras() map[nfc.Technology]nfc.Attributes {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[nfc.Technology]nfc.Attributes, len(e.extras))
	for t, a := range e.extras {
		out[t] = a.Clone()
	}
	return out
}

func (e *Endpoint) Connect(tech nfc.Technology) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nfc.NewTagLostError("Connect", nil)
	}
	if !slices.Contains(e.techs, tech) {
		return fmt.Errorf("technology %s not available", tech)
	}
	e.connected = tech
	return nil
}

func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	e.connected = nfc.TechUnknown
	e.mu.Unlock()
	return nil
}

// Reconnect warm-resets the card. Mifare Classic authentication is lost.
func (e *Endpoint) Reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nfc.NewTagLostError("Reconnect", nil)
	}
	if e.connected == nfc.TechUnknown {
		return fmt.Errorf("not connected")
	}
	if err := e.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard); err != nil {
		if isCardRemovedError(err) {
			e.removed = true
			return nfc.NewTagLostError("Reconnect", err)
		}
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

func (e *Endpoint) ConnectedTechnology() (nfc.Technology, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected, e.connected != nfc.TechUnknown
}

func (e *Endpoint) Transceive(data []byte, raw bool) ([]byte, error) {
	tech, ok := e.ConnectedTechnology()
	if !ok {
		return nil, fmt.Errorf("not connected")
	}
	switch tech {
	case nfc.TechIsoDep:
		return e.transmit(data)
	case nfc.TechMifareClassic:
		return e.classicFrame(data)
	case nfc.TechMifareUltralight, nfc.TechNfcA:
		return e.type2Frame(data)
	default:
		return e.command(nfc.DirectTransmitAPDU(data))
	}
}

func (e *Endpoint) classicFrame(frame []byte) ([]byte, error) {
	switch {
	case len(frame) == 12 && (frame[0] == nfc.KeyTypeA || frame[0] == nfc.KeyTypeB):
		// <key type> <block> <uid 4> <key 6>
		return nil, e.Authenticate(int(frame[1]), frame[0], frame[6:12])
	case len(frame) == 2 && frame[0] == nfc.CmdClassicRead:
		return e.ReadBlock(int(frame[1]))
	case len(frame) == 18 && frame[0] == nfc.CmdClassicWrite:
		return nil, e.WriteBlock(int(frame[1]), frame[2:])
	}
	return e.command(nfc.DirectTransmitAPDU(frame))
}

func (e *Endpoint) type2Frame(frame []byte) ([]byte, error) {
	switch {
	case len(frame) == 2 && frame[0] == nfc.CmdUltralightRead:
		return e.command(nfc.ReadBinaryAPDU(frame[1], 16))
	case len(frame) == 6 && frame[0] == nfc.CmdUltralightWrite:
		_, err := e.command(nfc.UpdateBinaryAPDU(frame[1], frame[2:]))
		return nil, err
	}
	return e.command(nfc.DirectTransmitAPDU(frame))
}

// Authenticate implements hardware.ClassicBlocks. The key goes to the
// reader's volatile key slot 0.
func (e *Endpoint) Authenticate(block int, keyType byte, key []byte) error {
	if _, err := e.command(nfc.LoadKeyAPDU(0x00, key)); err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if _, err := e.command(nfc.MIFAREAuthAPDU(byte(block), keyType, 0x00)); err != nil {
		return fmt.Errorf("authenticate block %d: %w", block, err)
	}
	return nil
}

// ReadBlock implements hardware.ClassicBlocks.
func (e *Endpoint) ReadBlock(block int) ([]byte, error) {
	return e.command(nfc.ReadBinaryAPDU(byte(block), hardware.ClassicBlockSize))
}

// WriteBlock implements hardware.ClassicBlocks.
func (e *Endpoint) WriteBlock(block int, data []byte) error {
	_, err := e.command(nfc.UpdateBinaryAPDU(byte(block), data))
	return err
}

// ReadPages implements hardware.Type2Pages.
func (e *Endpoint) ReadPages(page int) ([]byte, error) {
	return e.command(nfc.ReadBinaryAPDU(byte(page), 16))
}

// WritePage implements hardware.Type2Pages.
func (e *Endpoint) WritePage(page int, data []byte) error {
	_, err := e.command(nfc.UpdateBinaryAPDU(byte(page), data))
	return err
}

// transmit sends an APDU and returns the full answer including the status
// word.
func (e *Endpoint) transmit(apdu []byte) ([]byte, error) {
	e.mu.Lock()
	removed := e.removed
	e.mu.Unlock()
	if removed {
		return nil, nfc.NewTagLostError("Transceive", nil)
	}

	resp, err := e.card.Transmit(apdu)
	if err != nil {
		if isCardRemovedError(err) {
			e.markRemoved()
			return nil, nfc.NewTagLostError("Transceive", err)
		}
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return resp, nil
}

// command sends a reader APDU and returns the data of a 90 00 answer.
func (e *Endpoint) command(apdu []byte) ([]byte, error) {
	raw, err := e.transmit(apdu)
	if err != nil {
		return nil, err
	}
	resp, err := nfc.ParseAPDUResponse(raw)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("APDU %X: %w", apdu[:2], resp.Error())
	}
	return resp.Data, nil
}

func (e *Endpoint) markRemoved() {
	e.mu.Lock()
	e.removed = true
	e.connected = nfc.TechUnknown
	e.mu.Unlock()
}

func (e *Endpoint) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

// PresenceCheck probes the card with GET UID.
func (e *Endpoint) PresenceCheck() bool {
	if e.isRemoved() {
		return false
	}
	_, err := e.command(nfc.GetUIDAPDU())
	return err == nil
}

func (e *Endpoint) IsPresent() bool { return !e.isRemoved() }

func (e *Endpoint) ReadNdef() ([]byte, error) {
	switch {
	case e.cardType.IsType2():
		return hardware.ReadType2Ndef(e)
	case e.cardType.IsClassic():
		return hardware.ReadClassicNdef(e, e.cardType.classicLayout())
	}
	return nil, nfc.NewNotSupportedError("ReadNdef")
}

func (e *Endpoint) WriteNdef(data []byte) error {
	var err error
	switch {
	case e.cardType.IsType2():
		err = hardware.WriteType2Ndef(e, data)
	case e.cardType.IsClassic():
		err = hardware.WriteClassicNdef(e, e.cardType.classicLayout(), data)
	default:
		return nfc.NewNotSupportedError("WriteNdef")
	}
	if err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

// FormatNdef formats the card. Type 2 cards have no keys, so key is only
// checked for length; Classic sectors must open with it as key A.
func (e *Endpoint) FormatNdef(key []byte) error {
	if len(key) != 6 {
		return nfc.NewInvalidParamError("FormatNdef", "key must be 6 bytes, got %d", len(key))
	}
	var err error
	switch {
	case e.cardType.IsType2():
		err = hardware.FormatType2(e, e.cardType.type2DataSize())
	case e.cardType.IsClassic():
		err = hardware.FormatClassic(e, e.cardType.classicLayout(), key)
	default:
		return nfc.NewNotSupportedError("FormatNdef")
	}
	if err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

// MakeReadOnly locks a Type 2 container. Locking Classic sectors needs their
// key B, which the session does not have.
func (e *Endpoint) MakeReadOnly() error {
	if !e.cardType.IsType2() {
		return nfc.NewNotSupportedError("MakeReadOnly")
	}
	if err := hardware.LockType2(e); err != nil {
		return err
	}
	e.refreshNdef()
	return nil
}

func (e *Endpoint) CheckNdef() (service.NdefInfo, error) {
	switch {
	case e.cardType.IsType2():
		return hardware.CheckType2(e)
	case e.cardType.IsClassic():
		return hardware.CheckClassic(e, e.cardType.classicLayout())
	}
	return service.NdefInfo{}, nil
}

func (e *Endpoint) close() {
	e.markRemoved()
	if err := e.card.Disconnect(scard.LeaveCard); err != nil {
		log.Printf("pcsc: %s: disconnect: %v", e.reader, err)
	}
}

// isCardRemovedError reports whether a PC/SC error means the card left the
// field.
func isCardRemovedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}

	// Some drivers only say it in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "removed") ||
		strings.Contains(msg, "no smart card") ||
		strings.Contains(msg, "unpowered")
}
