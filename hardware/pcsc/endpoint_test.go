package pcsc

import (
	"bytes"
	"slices"
	"testing"

	"github.com/ebfe/scard"
	"github.com/google/go-cmp/cmp"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

var sw9000 = []byte{0x90, 0x00}

// fakeCard answers the storage card pseudo APDUs of an ACR122U style
// reader from memory.
type fakeCard struct {
	uid      []byte
	mem      []byte
	unit     int // bytes per block or page
	version  []byte
	key      []byte
	removed  bool
	sent     [][]byte
	resets   int
	released bool
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	if c.removed {
		return nil, scard.ErrRemovedCard
	}
	c.sent = append(c.sent, slices.Clone(cmd))
	if cmd[0] != nfc.CLAPCSC {
		if cmd[1] == nfc.INSSelectFile {
			return []byte{0x6F, 0x00, 0x90, 0x00}, nil
		}
		return []byte{0x6D, 0x00}, nil
	}

	switch cmd[1] {
	case nfc.INSGetUID:
		return append(slices.Clone(c.uid), sw9000...), nil
	case nfc.INSLoadKey:
		c.key = slices.Clone(cmd[5:11])
		return sw9000, nil
	case nfc.INSAuth:
		if !c.keyOpens(int(cmd[7]), cmd[8]) {
			return []byte{0x63, 0x00}, nil
		}
		return sw9000, nil
	case nfc.INSReadBinary:
		out := make([]byte, int(cmd[4]))
		for i := range out {
			out[i] = c.mem[(int(cmd[3])*c.unit+i)%len(c.mem)]
		}
		return append(out, sw9000...), nil
	case nfc.INSUpdateBin:
		data := cmd[5 : 5+int(cmd[4])]
		copy(c.mem[int(cmd[3])*c.unit:], data)
		return sw9000, nil
	case nfc.INSDirectCmd:
		inner := cmd[5 : 5+int(cmd[4])]
		if inner[0] == 0x60 && c.version != nil {
			return append(slices.Clone(c.version), sw9000...), nil
		}
		return []byte{0x63, 0x00}, nil
	}
	return []byte{0x6A, 0x81}, nil
}

// keyOpens checks the loaded key against the sector trailer of a Classic
// card. Other cards take the factory key.
func (c *fakeCard) keyOpens(block int, keyType byte) bool {
	if c.unit != hardware.ClassicBlockSize {
		return bytes.Equal(c.key, nfc.KeyDefault)
	}
	trailer := c.mem[(block|3)*16 : (block|3)*16+16]
	if keyType == nfc.KeyTypeB {
		return bytes.Equal(c.key, trailer[10:16])
	}
	return bytes.Equal(c.key, trailer[0:6])
}

func (c *fakeCard) Reconnect(scard.ShareMode, scard.Protocol, scard.Disposition) error {
	if c.removed {
		return scard.ErrRemovedCard
	}
	c.resets++
	return nil
}

func (c *fakeCard) Disconnect(scard.Disposition) error {
	c.released = true
	return nil
}

// newClassicCard returns a factory fresh 1K card.
func newClassicCard() *fakeCard {
	c := &fakeCard{uid: []byte{0xDE, 0xAD, 0xBE, 0xEF}, mem: make([]byte, 1024), unit: 16}
	for sector := 0; sector < 16; sector++ {
		copy(c.mem[sector*64+48:], hardware.ClassicTrailer(nfc.KeyDefault, [3]byte{0xFF, 0x07, 0x80}, 0x69, nfc.KeyDefault))
	}
	return c
}

func newUltralightCard() *fakeCard {
	return &fakeCard{
		uid:  []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		mem:  make([]byte, 16*4),
		unit: 4,
	}
}

func TestEndpointUltralightNdef(t *testing.T) {
	c := newUltralightCard()
	ep, err := newEndpoint(1, "ACR122U", c, atrUltralight)
	if err != nil {
		t.Fatal(err)
	}
	if ep.CardType() != CardUltralight {
		t.Errorf("CardType = %s", ep.CardType())
	}
	want := []nfc.Technology{nfc.TechNfcA, nfc.TechMifareUltralight, nfc.TechNdefFormatable}
	if diff := cmp.Diff(want, ep.TechList()); diff != "" {
		t.Errorf("blank card techs (-want +got):\n%s", diff)
	}

	if err := ep.FormatNdef([]byte{1, 2}); !nfc.IsInvalidParamError(err) {
		t.Errorf("FormatNdef with short key: %v", err)
	}
	if err := ep.FormatNdef(nfc.KeyDefault); err != nil {
		t.Fatalf("FormatNdef: %v", err)
	}
	if !slices.Contains(ep.TechList(), nfc.TechNdef) {
		t.Fatalf("formatted card techs %v", ep.TechList())
	}

	msg := []byte{0xD1, 0x01, 0x04, 'T', 0x02, 'e', 'n', 'x'}
	if err := ep.WriteNdef(msg); err != nil {
		t.Fatalf("WriteNdef: %v", err)
	}
	got, err := ep.ReadNdef()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("ReadNdef (-want +got):\n%s", diff)
	}

	info, err := ep.CheckNdef()
	if err != nil || !info.Supported || info.MaxSize != 48 || info.Mode != 2 {
		t.Errorf("CheckNdef = %+v, %v", info, err)
	}
	if err := ep.MakeReadOnly(); err != nil {
		t.Fatalf("MakeReadOnly: %v", err)
	}
	if mode, _ := ep.Extras()[nfc.TechNdef].Int(nfc.AttrNdefTagMode); mode != 1 {
		t.Errorf("NdefTagMode = %d after lock, want 1", mode)
	}
}

func TestEndpointUltralightFrames(t *testing.T) {
	c := newUltralightCard()
	ep, err := newEndpoint(1, "ACR122U", c, atrUltralight)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ep.Transceive([]byte{nfc.CmdUltralightRead, 4}, false); err == nil {
		t.Error("Transceive before Connect succeeded")
	}
	if err := ep.Connect(nfc.TechIsoDep); err == nil {
		t.Error("Connect to missing technology succeeded")
	}
	if err := ep.Connect(nfc.TechMifareUltralight); err != nil {
		t.Fatal(err)
	}

	if _, err := ep.Transceive([]byte{nfc.CmdUltralightWrite, 5, 1, 2, 3, 4}, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ep.Transceive([]byte{nfc.CmdUltralightRead, 4}, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 16 || !bytes.Equal(got[4:8], []byte{1, 2, 3, 4}) {
		t.Errorf("read = %x", got)
	}
	last := c.sent[len(c.sent)-1]
	if diff := cmp.Diff([]byte{0xFF, 0xB0, 0x00, 0x04, 0x10}, last); diff != "" {
		t.Errorf("read APDU (-want +got):\n%s", diff)
	}

	if err := ep.Reconnect(); err != nil || c.resets != 1 {
		t.Errorf("Reconnect: %v (resets %d)", err, c.resets)
	}
}

func TestEndpointGetVersion(t *testing.T) {
	c := newUltralightCard()
	c.version = []byte{0x00, 0x04, 0x04, 0x02, 0x01, 0x00, 0x0F, 0x03}
	ep, err := newEndpoint(1, "ACR122U", c, atrUltralight)
	if err != nil {
		t.Fatal(err)
	}
	if ep.CardType() != CardNTAG213 {
		t.Errorf("CardType = %s, want NTAG213", ep.CardType())
	}
}

func TestEndpointUnsupportedCard(t *testing.T) {
	c := newUltralightCard()
	if _, err := newEndpoint(1, "ACR122U", c, atrUnknownA3); err == nil {
		t.Error("expected error for unknown card")
	}
}

func TestEndpointClassicFrames(t *testing.T) {
	c := newClassicCard()
	ep, err := newEndpoint(1, "ACR122U", c, atrClassic1K)
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Connect(nfc.TechMifareClassic); err != nil {
		t.Fatal(err)
	}

	auth := append([]byte{nfc.KeyTypeA, 4, 0xDE, 0xAD, 0xBE, 0xEF}, nfc.KeyDefault...)
	c.sent = nil
	if _, err := ep.Transceive(auth, false); err != nil {
		t.Fatalf("auth: %v", err)
	}
	want := [][]byte{
		{0xFF, 0x82, 0x00, 0x00, 0x06, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, 0x04, 0x60, 0x00},
	}
	if diff := cmp.Diff(want, c.sent); diff != "" {
		t.Errorf("auth APDUs (-want +got):\n%s", diff)
	}

	badKey := append([]byte{nfc.KeyTypeB, 4, 0xDE, 0xAD, 0xBE, 0xEF}, nfc.KeyMAD...)
	if _, err := ep.Transceive(badKey, false); err == nil {
		t.Error("auth with wrong key succeeded")
	}

	block := bytes.Repeat([]byte{0x5A}, 16)
	if _, err := ep.Transceive(append([]byte{nfc.CmdClassicWrite, 5}, block...), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ep.Transceive([]byte{nfc.CmdClassicRead, 5}, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(block, got); diff != "" {
		t.Errorf("block (-want +got):\n%s", diff)
	}

	if _, err := ep.ReadNdef(); !nfc.IsNotSupportedError(err) {
		t.Errorf("ReadNdef on blank classic: %v", err)
	}
}

func TestEndpointClassicNdef(t *testing.T) {
	c := newClassicCard()
	ep, err := newEndpoint(1, "ACR122U", c, atrClassic1K)
	if err != nil {
		t.Fatal(err)
	}
	want := []nfc.Technology{nfc.TechNfcA, nfc.TechMifareClassic, nfc.TechNdefFormatable}
	if diff := cmp.Diff(want, ep.TechList()); diff != "" {
		t.Errorf("blank card techs (-want +got):\n%s", diff)
	}
	if got := ep.Extras()[nfc.TechNdefFormatable].IntOr(nfc.AttrNdefForumType, 0); got != hardware.NdefForumTypeClassic {
		t.Errorf("formatable forum type = %d", got)
	}

	if err := ep.FormatNdef(nfc.KeyMAD); err == nil {
		t.Error("FormatNdef with a key the card does not take succeeded")
	}
	if err := ep.FormatNdef(nfc.KeyDefault); err != nil {
		t.Fatalf("FormatNdef: %v", err)
	}
	info, err := ep.CheckNdef()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(service.NdefInfo{Supported: true, MaxSize: 716, Mode: 2}, info); diff != "" {
		t.Errorf("CheckNdef (-want +got):\n%s", diff)
	}

	msg := bytes.Repeat([]byte{0xAB}, 100)
	if err := ep.WriteNdef(msg); err != nil {
		t.Fatalf("WriteNdef: %v", err)
	}
	got, err := ep.ReadNdef()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("ReadNdef (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msg, ep.Extras()[nfc.TechNdef].Bytes(nfc.AttrNdefMsg)); diff != "" {
		t.Errorf("NdefMsg extra (-want +got):\n%s", diff)
	}
	if err := ep.MakeReadOnly(); !nfc.IsNotSupportedError(err) {
		t.Errorf("MakeReadOnly on classic: %v", err)
	}
}

func TestEndpointIsoDepPassthrough(t *testing.T) {
	c := &fakeCard{uid: []byte{0x04, 1, 2, 3, 4, 5, 6}, mem: make([]byte, 16), unit: 4}
	ep, err := newEndpoint(1, "ACR122U", c, atrDesfire)
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Connect(nfc.TechIsoDep); err != nil {
		t.Fatal(err)
	}
	resp, err := ep.Transceive(nfc.SelectFileByAIDAPDU([]byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}), false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x6F, 0x00, 0x90, 0x00}, resp); diff != "" {
		t.Errorf("answer (-want +got):\n%s", diff)
	}
}

func TestEndpointCardRemoved(t *testing.T) {
	c := newUltralightCard()
	ep, err := newEndpoint(1, "ACR122U", c, atrUltralight)
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Connect(nfc.TechMifareUltralight); err != nil {
		t.Fatal(err)
	}
	if !ep.PresenceCheck() {
		t.Fatal("card not present")
	}

	c.removed = true
	if _, err := ep.Transceive([]byte{nfc.CmdUltralightRead, 0}, false); !nfc.IsTagLostError(err) {
		t.Errorf("Transceive after removal: %v", err)
	}
	if ep.IsPresent() || ep.PresenceCheck() {
		t.Error("card still reported present")
	}
	if _, connected := ep.ConnectedTechnology(); connected {
		t.Error("still connected after removal")
	}
	if err := ep.Connect(nfc.TechMifareUltralight); !nfc.IsTagLostError(err) {
		t.Errorf("Connect after removal: %v", err)
	}

	ep.close()
	if !c.released {
		t.Error("card handle not released")
	}
}

func TestFilterContactlessReaders(t *testing.T) {
	got := filterContactlessReaders([]string{"ACS ACR122U PICC Interface 00 00", "ACS ACR1252 1S CL Reader SAM 01 00", "Identiv uTrust 3700 F"})
	want := []string{"ACS ACR122U PICC Interface 00 00", "Identiv uTrust 3700 F"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readers (-want +got):\n%s", diff)
	}
}
