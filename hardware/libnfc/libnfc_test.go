package libnfc

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/clausecker/nfc/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	nfctag "github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

var errGone = errors.New("target released")

type fakeDevice struct {
	gone     bool
	selects  int
	sent     [][]byte
	answer   []byte
	failNext bool
}

func (d *fakeDevice) InitiatorSelectPassiveTarget(nfc.Modulation, []byte) (nfc.Target, error) {
	if d.gone {
		return nil, errGone
	}
	d.selects++
	return &nfc.ISO14443aTarget{}, nil
}

func (d *fakeDevice) InitiatorTargetIsPresent(nfc.Target) error {
	if d.gone {
		return errGone
	}
	return nil
}

func (d *fakeDevice) InitiatorDeselectTarget() error { return nil }

func (d *fakeDevice) InitiatorTransceiveBytes(tx, rx []byte, _ int) (int, error) {
	if d.gone || d.failNext {
		d.failNext = false
		return 0, errors.New("RF transmission error")
	}
	d.sent = append(d.sent, slices.Clone(tx))
	return copy(rx, d.answer), nil
}

// fakeUltralight is a 16 page Ultralight.
type fakeUltralight struct {
	mem       [64]byte
	connected bool
}

func (u *fakeUltralight) Connect() error {
	if u.connected {
		return errors.New("already connected")
	}
	u.connected = true
	return nil
}

func (u *fakeUltralight) Disconnect() error {
	u.connected = false
	return nil
}

func (u *fakeUltralight) ReadPage(page byte) ([4]byte, error) {
	var out [4]byte
	if !u.connected || int(page) >= 16 {
		return out, errors.New("NAK")
	}
	copy(out[:], u.mem[int(page)*4:])
	return out, nil
}

func (u *fakeUltralight) WritePage(page byte, data [4]byte) error {
	if !u.connected || page < 2 || int(page) >= 16 {
		return errors.New("NAK")
	}
	copy(u.mem[int(page)*4:], data[:])
	return nil
}

// fakeClassic is a factory fresh 1K card.
type fakeClassic struct {
	mem       [1024]byte
	open      int
	connected bool
}

func newFakeClassic() *fakeClassic {
	c := &fakeClassic{open: -1}
	for s := 0; s < 16; s++ {
		copy(c.mem[nfctag.ClassicSectorTrailer(s)*16:], hardware.ClassicTrailer(nfctag.KeyDefault, [3]byte{0xFF, 0x07, 0x80}, 0x69, nfctag.KeyDefault))
	}
	return c
}

func (c *fakeClassic) Connect() error    { c.connected = true; return nil }
func (c *fakeClassic) Disconnect() error { c.connected, c.open = false, -1; return nil }

func (c *fakeClassic) Authenticate(block byte, key [6]byte, keyType byte) error {
	trailer := c.mem[int(block|3)*16 : int(block|3)*16+16]
	want := trailer[0:6]
	if keyType == nfctag.KeyTypeB {
		want = trailer[10:16]
	}
	if !c.connected || !bytes.Equal(key[:], want) {
		c.open = -1
		return errors.New("authentication failed")
	}
	c.open = int(block) / 4
	return nil
}

func (c *fakeClassic) ReadBlock(block byte) ([16]byte, error) {
	var out [16]byte
	if int(block)/4 != c.open {
		return out, errors.New("not authenticated")
	}
	copy(out[:], c.mem[int(block)*16:])
	return out, nil
}

func (c *fakeClassic) WriteBlock(block byte, data [16]byte) error {
	if int(block)/4 != c.open {
		return errors.New("not authenticated")
	}
	copy(c.mem[int(block)*16:], data[:])
	return nil
}

func TestProfileFor(t *testing.T) {
	tests := []struct {
		name  string
		sak   byte
		kind  tagKind
		size  int
		techs []nfctag.Technology
	}{
		{"classic 1K", 0x08, kindClassic, 1024, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechMifareClassic}},
		{"classic 4K", 0x18, kindClassic, 4096, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechMifareClassic}},
		{"mini", 0x09, kindClassic, 320, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechMifareClassic}},
		{"ultralight", 0x00, kindUltralight, 48, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechMifareUltralight}},
		{"desfire", 0x20, kindOther, 0, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechIsoDep}},
		{"emulated classic", 0x28, kindClassic, 1024, []nfctag.Technology{nfctag.TechNfcA, nfctag.TechMifareClassic, nfctag.TechIsoDep}},
		{"unknown", 0x01 << 6, kindOther, 0, []nfctag.Technology{nfctag.TechNfcA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profileFor(tt.sak, [2]byte{0x44, 0x00}, []byte{0x75, 0x77, 0x81, 0x02, 0x80})
			if p.kind != tt.kind || p.size != tt.size {
				t.Errorf("kind/size = %d/%d, want %d/%d", p.kind, p.size, tt.kind, tt.size)
			}
			if diff := cmp.Diff(tt.techs, p.techs); diff != "" {
				t.Errorf("techs (-want +got):\n%s", diff)
			}
			if got := p.extras[nfctag.TechNfcA].IntOr(nfctag.AttrSak, -1); got != int(tt.sak) {
				t.Errorf("Sak = %d", got)
			}
		})
	}
}

func TestATSHistoricalBytes(t *testing.T) {
	tests := []struct {
		ats  []byte
		want []byte
	}{
		{nil, nil},
		{[]byte{0x75, 0x77, 0x81, 0x02, 0x80}, []byte{0x80}},
		{[]byte{0x78, 0x80, 0x70, 0x02, 0x01, 0x02}, []byte{0x01, 0x02}},
		{[]byte{0x05, 0xAA, 0xBB}, []byte{0xAA, 0xBB}},
		{[]byte{0x75, 0x77, 0x81, 0x02}, nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, atsHistoricalBytes(tt.ats)); diff != "" {
			t.Errorf("atsHistoricalBytes(% X) (-want +got):\n%s", tt.ats, diff)
		}
	}
}

func TestClassicFrame(t *testing.T) {
	auth := []byte{nfctag.KeyTypeA, 4, 0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4, 5, 6}
	want := []byte{nfctag.KeyTypeA, 4, 1, 2, 3, 4, 5, 6, 0xDE, 0xAD, 0xBE, 0xEF}
	if diff := cmp.Diff(want, classicFrame(auth)); diff != "" {
		t.Errorf("auth (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{nfctag.CmdClassicRestore, 5, 0, 0, 0, 0}, classicFrame([]byte{nfctag.CmdClassicRestore, 5})); diff != "" {
		t.Errorf("restore (-want +got):\n%s", diff)
	}
	read := []byte{nfctag.CmdClassicRead, 5}
	if diff := cmp.Diff(read, classicFrame(read)); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}
}

func newTestEndpoint(dev *fakeDevice, sak byte) *Endpoint {
	p := profileFor(sak, [2]byte{0x44, 0x00}, nil)
	return newEndpoint(1, &bus{dev: dev}, &nfc.ISO14443aTarget{}, []byte{0x04, 1, 2, 3, 4, 5, 6}, p)
}

func TestEndpointUltralightNdef(t *testing.T) {
	ul := &fakeUltralight{}
	ep := newTestEndpoint(&fakeDevice{}, 0x00)
	ep.ultralight = ul
	ep.refreshNdef()

	if !slices.Contains(ep.TechList(), nfctag.TechNdefFormatable) {
		t.Fatalf("blank tag techs %v", ep.TechList())
	}
	if err := ep.FormatNdef(nfctag.KeyDefault); err != nil {
		t.Fatalf("FormatNdef: %v", err)
	}
	if ul.connected {
		t.Error("tag left selected after format")
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
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(service.NdefInfo{Supported: true, MaxSize: 48, Mode: 2}, info); diff != "" {
		t.Errorf("CheckNdef (-want +got):\n%s", diff)
	}

	// A connected session keeps the tag selected across NDEF calls.
	if err := ep.Connect(nfctag.TechNdef); err != nil {
		t.Fatal(err)
	}
	if _, err := ep.ReadNdef(); err != nil {
		t.Errorf("ReadNdef while connected: %v", err)
	}
	if !ul.connected {
		t.Error("tag released while connected")
	}
	if err := ep.MakeReadOnly(); err != nil {
		t.Fatalf("MakeReadOnly: %v", err)
	}
	if err := ep.WriteNdef(msg); err == nil {
		t.Error("write after MakeReadOnly succeeded")
	}
}

func TestEndpointClassicNdef(t *testing.T) {
	c := newFakeClassic()
	ep := newTestEndpoint(&fakeDevice{}, 0x08)
	ep.classic = c
	ep.refreshNdef()

	if got := ep.Extras()[nfctag.TechNdefFormatable].IntOr(nfctag.AttrNdefForumType, 0); got != hardware.NdefForumTypeClassic {
		t.Fatalf("formatable forum type = %d (techs %v)", got, ep.TechList())
	}
	if err := ep.FormatNdef(nfctag.KeyDefault); err != nil {
		t.Fatalf("FormatNdef: %v", err)
	}
	msg := bytes.Repeat([]byte{0x61}, 90)
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
	if diff := cmp.Diff(msg, ep.Extras()[nfctag.TechNdef].Bytes(nfctag.AttrNdefMsg)); diff != "" {
		t.Errorf("NdefMsg extra (-want +got):\n%s", diff)
	}
	if err := ep.MakeReadOnly(); !nfctag.IsNotSupportedError(err) {
		t.Errorf("MakeReadOnly on classic: %v", err)
	}
}

func TestEndpointTransceive(t *testing.T) {
	dev := &fakeDevice{answer: []byte{0x90, 0x00}}
	ep := newTestEndpoint(dev, 0x20)

	if _, err := ep.Transceive([]byte{0x00}, false); err == nil {
		t.Error("Transceive before Connect succeeded")
	}
	if err := ep.Connect(nfctag.TechIsoDep); err != nil {
		t.Fatal(err)
	}
	if dev.selects != 1 {
		t.Errorf("selects = %d, want 1", dev.selects)
	}
	got, err := ep.Transceive([]byte{0x00, 0xA4, 0x04, 0x00}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x90, 0x00}, got); diff != "" {
		t.Errorf("answer (-want +got):\n%s", diff)
	}

	dev.failNext = true
	if _, err := ep.Transceive([]byte{0x00}, false); err == nil || nfctag.IsTagLostError(err) {
		t.Errorf("failed exchange with tag present: %v", err)
	}
	if !ep.IsPresent() {
		t.Error("tag marked gone after a plain failure")
	}

	dev.gone = true
	if _, err := ep.Transceive([]byte{0x00}, false); !nfctag.IsTagLostError(err) {
		t.Errorf("exchange with tag gone: %v", err)
	}
	if ep.IsPresent() {
		t.Error("tag still present")
	}
	if err := ep.Connect(nfctag.TechIsoDep); !nfctag.IsTagLostError(err) {
		t.Errorf("Connect after loss: %v", err)
	}
}

func TestEndpointClassicTransceive(t *testing.T) {
	dev := &fakeDevice{}
	ep := newTestEndpoint(dev, 0x08)
	ep.SetTimeout(nfctag.TechMifareClassic, 100)
	if err := ep.Connect(nfctag.TechMifareClassic); err != nil {
		t.Fatal(err)
	}
	auth := append([]byte{nfctag.KeyTypeB, 7, 1, 2, 3, 4}, nfctag.KeyDefault...)
	if _, err := ep.Transceive(auth, false); err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{nfctag.KeyTypeB, 7}, nfctag.KeyDefault...), 1, 2, 3, 4)
	if diff := cmp.Diff([][]byte{want}, dev.sent); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
}

func TestEndpointPresenceCheck(t *testing.T) {
	dev := &fakeDevice{}
	ep := newTestEndpoint(dev, 0x20)
	if !ep.PresenceCheck() {
		t.Fatal("present tag reported gone")
	}
	if dev.selects != 1 {
		t.Errorf("selects = %d, want a select by UID", dev.selects)
	}
	dev.gone = true
	if ep.PresenceCheck() || ep.IsPresent() {
		t.Error("removed tag reported present")
	}
}

type recorder struct {
	found   []service.TagEndpoint
	removed []int
}

func (r *recorder) TagDiscovered(ep service.TagEndpoint) { r.found = append(r.found, ep) }
func (r *recorder) TagRemoved(handle int)                { r.removed = append(r.removed, handle) }

func TestDriverPollKeepsSessionTag(t *testing.T) {
	dev := &fakeDevice{}
	d := New("", 0)
	d.bus.dev = dev
	ep := newTestEndpoint(dev, 0x20)
	ep.bus = d.bus
	d.current = ep
	r := &recorder{}

	d.poll(r)
	if len(r.removed) != 0 {
		t.Fatalf("present tag dropped")
	}

	if err := ep.Connect(nfctag.TechIsoDep); err != nil {
		t.Fatal(err)
	}
	dev.gone = true
	d.poll(r)
	if len(r.removed) != 0 {
		t.Error("connected tag dropped before the session noticed")
	}
	if _, err := ep.Transceive([]byte{0x00}, false); !nfctag.IsTagLostError(err) {
		t.Fatalf("Transceive: %v", err)
	}
	d.poll(r)
	if diff := cmp.Diff([]int{1}, r.removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if d.current != nil {
		t.Error("current tag kept")
	}
}

func TestDriverCapabilities(t *testing.T) {
	d := New("pn532_uart:/dev/ttyUSB0", 0)
	if d.IsEnabled() {
		t.Error("unopened driver enabled")
	}
	if !d.CanMakeReadOnly(hardware.NdefForumType2) || d.CanMakeReadOnly(hardware.NdefForumTypeClassic) {
		t.Error("CanMakeReadOnly")
	}
	if d.IsoDepMaxTransceiveLength() != nfctag.IsoDepShortMaxTransceiveLength || d.ExtendedLengthApdusSupported() {
		t.Error("ISO-DEP limits")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close on unopened driver: %v", err)
	}
}
