package sim

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dotside-studios/davi-nfc-tagd/config"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

var classicUID = []byte{0x01, 0x02, 0x03, 0x04}

func authFrame(keyType byte, block byte, key []byte) []byte {
	frame := append([]byte{keyType, block}, classicUID...)
	return append(frame, key...)
}

func TestClassicAuthenticateReadWrite(t *testing.T) {
	tag := NewClassicTag(classicUID, 0x08, 1024)

	if _, err := tag.transceive(nfc.TechMifareClassic, []byte{nfc.CmdClassicRead, 4}); err == nil {
		t.Fatal("expected read without authentication to fail")
	}
	if _, err := tag.transceive(nfc.TechMifareClassic, authFrame(nfc.KeyTypeA, 4, nfc.KeyMAD)); err == nil {
		t.Fatal("expected authentication with wrong key to fail")
	}
	if _, err := tag.transceive(nfc.TechMifareClassic, authFrame(nfc.KeyTypeA, 4, nfc.KeyDefault)); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	data := bytes.Repeat([]byte{0xAB}, 16)
	if _, err := tag.transceive(nfc.TechMifareClassic, append([]byte{nfc.CmdClassicWrite, 5}, data...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tag.transceive(nfc.TechMifareClassic, []byte{nfc.CmdClassicRead, 5})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read = % X, want % X", got, data)
	}

	// Block 8 lives in sector 2.
	if _, err := tag.transceive(nfc.TechMifareClassic, []byte{nfc.CmdClassicRead, 8}); err == nil {
		t.Error("expected read outside the authenticated sector to fail")
	}
}

func TestClassicSectorKeys(t *testing.T) {
	tag := NewClassicTag(classicUID, 0x08, 1024)
	tag.SetSectorKeys(1, nfc.KeyNFCForum, nfc.KeyMAD)

	if _, err := tag.transceive(nfc.TechMifareClassic, authFrame(nfc.KeyTypeA, 4, nfc.KeyDefault)); err == nil {
		t.Error("default key accepted for a sector with custom keys")
	}
	if _, err := tag.transceive(nfc.TechMifareClassic, authFrame(nfc.KeyTypeB, 4, nfc.KeyMAD)); err != nil {
		t.Errorf("key B: %v", err)
	}
}

func TestClassicValueBlock(t *testing.T) {
	tag := NewClassicTag(classicUID, 0x08, 1024)
	mustTransceive := func(frame []byte) {
		t.Helper()
		if _, err := tag.transceive(nfc.TechMifareClassic, frame); err != nil {
			t.Fatalf("% X: %v", frame, err)
		}
	}

	mustTransceive(authFrame(nfc.KeyTypeA, 4, nfc.KeyDefault))
	mustTransceive(append([]byte{nfc.CmdClassicWrite, 4}, encodeValue(100, 4)...))
	mustTransceive([]byte{nfc.CmdClassicIncrement, 4, 25, 0, 0, 0})
	mustTransceive([]byte{nfc.CmdClassicTransfer, 4})
	mustTransceive([]byte{nfc.CmdClassicDecrement, 4, 5, 0, 0, 0})
	mustTransceive([]byte{nfc.CmdClassicTransfer, 5})

	mem := tag.Memory()
	if v, ok := decodeValue(mem[4*16 : 5*16]); !ok || v != 125 {
		t.Errorf("block 4 = %d (%v), want 125", v, ok)
	}
	if v, ok := decodeValue(mem[5*16 : 6*16]); !ok || v != 120 {
		t.Errorf("block 5 = %d (%v), want 120", v, ok)
	}

	if _, err := tag.transceive(nfc.TechMifareClassic, []byte{nfc.CmdClassicTransfer, 6}); err == nil {
		t.Error("expected transfer with an empty buffer to fail")
	}
}

func TestUltralightReadWraps(t *testing.T) {
	tag := NewUltralightTag([]byte{0x04, 1, 2, 3, 4, 5, 6}, 16, false)

	if _, err := tag.transceive(nfc.TechMifareUltralight, []byte{nfc.CmdUltralightWrite, 15, 0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tag.transceive(nfc.TechMifareUltralight, []byte{nfc.CmdUltralightRead, 15})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("read returned %d bytes", len(got))
	}
	if !bytes.Equal(got[:4], []byte{0xDE, 0xAD, 0xBE, 0xEF}) || got[4] != 0x04 {
		t.Errorf("read = % X", got)
	}

	if _, err := tag.transceive(nfc.TechMifareUltralight, []byte{nfc.CmdUltralightWrite, 1, 0, 0, 0, 0}); err == nil {
		t.Error("expected write to the serial number pages to fail")
	}
}

func TestIso15693Commands(t *testing.T) {
	uid := []byte{0xE0, 0x04, 1, 2, 3, 4, 5, 6}
	tag := NewIso15693Tag(uid, 8, 4, 0x00)
	frame := func(cmd, block byte, args ...byte) []byte {
		f := append([]byte{0x20, cmd}, uid...)
		f = append(f, block)
		return append(f, args...)
	}

	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{"write", frame(nfc.CmdIso15693WriteSingle, 2, 1, 2, 3, 4), []byte{0x00}},
		{"read", frame(nfc.CmdIso15693ReadSingle, 2), []byte{0x00, 1, 2, 3, 4}},
		{"write multiple", frame(nfc.CmdIso15693WriteMultiple, 3, 1, 9, 9, 9, 9, 8, 8, 8, 8), []byte{0x00}},
		{"read multiple", frame(nfc.CmdIso15693ReadMultiple, 3, 1), []byte{0x00, 9, 9, 9, 9, 8, 8, 8, 8}},
		{"bad length", frame(nfc.CmdIso15693WriteSingle, 2, 1), []byte{0x01, iso15693ErrBadFormat}},
		{"out of range", frame(nfc.CmdIso15693ReadSingle, 8), []byte{0x01, iso15693ErrBadBlock}},
		{"lock", frame(nfc.CmdIso15693LockBlock, 2), []byte{0x00}},
		{"write locked", frame(nfc.CmdIso15693WriteSingle, 2, 4, 3, 2, 1), []byte{0x01, iso15693ErrLocked}},
		{"unknown", frame(0x2B, 0), []byte{0x01, iso15693ErrNotSupported}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tag.transceive(nfc.TechNfcV, tt.frame)
			if err != nil {
				t.Fatalf("transceive: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEndpointNdef(t *testing.T) {
	host := NewHost()
	ep := host.Attach(NewUltralightTag([]byte{0x04, 1, 2, 3, 4, 5, 6}, 16, false).WithNdef(2, []byte{0xD1}, 48))

	if err := ep.WriteNdef(bytes.Repeat([]byte{1}, 49)); nfc.GetErrorCode(err) != nfc.ErrCodeExceededLength {
		t.Errorf("oversized write: %v", err)
	}
	if err := ep.WriteNdef([]byte{0xD1, 0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ep.MakeReadOnly(); err != nil {
		t.Fatalf("make read-only: %v", err)
	}
	if err := ep.WriteNdef([]byte{0xD1}); err == nil {
		t.Error("expected write to a read-only container to fail")
	}
	info, err := ep.CheckNdef()
	if err != nil || !info.Supported || info.Mode != 1 || info.MaxSize != 48 {
		t.Errorf("CheckNdef = %+v, %v", info, err)
	}
	if got := ep.Extras()[nfc.TechNdef].IntOr(nfc.AttrNdefTagMode, 0); got != 1 {
		t.Errorf("extras tag mode = %d, want 1", got)
	}
}

func TestEndpointFormat(t *testing.T) {
	host := NewHost()
	ep := host.Attach(NewClassicTag(classicUID, 0x08, 1024).WithFormatable(101, 716))

	if err := ep.FormatNdef([]byte{1, 2}); !nfc.IsInvalidParamError(err) {
		t.Errorf("short key: %v", err)
	}
	if err := ep.FormatNdef(nfc.KeyDefault); err != nil {
		t.Fatalf("format: %v", err)
	}
	if err := ep.FormatNdef(nfc.KeyDefault); err == nil {
		t.Error("expected second format to fail")
	}
	if info, _ := ep.CheckNdef(); !info.Supported {
		t.Error("formatted tag reports no NDEF")
	}
}

func TestEndpointRemoval(t *testing.T) {
	host := NewHost()
	ep := host.Attach(NewIsoDepTag([]byte{1, 2, 3, 4, 5, 6, 7}, nil, nil))
	if ep.Handle() != 1 || host.Attach(NewIsoDepTag(nil, nil, nil)).Handle() != 2 {
		t.Fatal("handles not allocated in order")
	}

	if err := ep.Connect(nfc.TechMifareClassic); err == nil {
		t.Error("expected connect to an unadvertised technology to fail")
	}
	if err := ep.Connect(nfc.TechIsoDep); err != nil {
		t.Fatalf("connect: %v", err)
	}
	resp, err := ep.Transceive([]byte{0x00, 0xA4, 0x04, 0x00}, false)
	if err != nil || !bytes.Equal(resp, []byte{0x6D, 0x00}) {
		t.Errorf("transceive = % X, %v", resp, err)
	}

	ep.Tag().Remove()
	if ep.PresenceCheck() {
		t.Error("removed tag still present")
	}
	if _, err := ep.Transceive([]byte{0x00}, false); !nfc.IsTagLostError(err) {
		t.Errorf("transceive after removal: %v", err)
	}
}

func TestHostCapabilities(t *testing.T) {
	host := NewHost()
	if !host.CanMakeReadOnly(2) || host.CanMakeReadOnly(4) {
		t.Error("unexpected default read-only types")
	}
	host.SetReadOnlyTypes(4)
	if host.CanMakeReadOnly(2) || !host.CanMakeReadOnly(4) {
		t.Error("SetReadOnlyTypes not applied")
	}

	host.SetExtendedLengthApdus(true)
	if !host.ExtendedLengthApdusSupported() || host.IsoDepMaxTransceiveLength() != nfc.IsoDepExtendedMaxTransceiveLength {
		t.Error("extended APDU support not applied")
	}
	host.SetEnabled(false)
	if host.IsEnabled() {
		t.Error("host still enabled")
	}
}

func TestFromConfig(t *testing.T) {
	tag, err := FromConfig(config.SimTag{
		Kind: "ultralight",
		UID:  "04A1B2C3D4E5F6",
		Ndef: &config.SimNdef{URI: "https://example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, techs, extras := tag.snapshot()
	want := []nfc.Technology{nfc.TechNfcA, nfc.TechMifareUltralight, nfc.TechNdef}
	if !slices.Equal(techs, want) {
		t.Errorf("techs = %v, want %v", techs, want)
	}
	if got := extras[nfc.TechNdef].IntOr(nfc.AttrNdefForumType, 0); got != 2 {
		t.Errorf("forum type = %d", got)
	}
	if len(tag.Ndef()) == 0 {
		t.Error("NDEF message not seeded")
	}

	blank, err := FromConfig(config.SimTag{Kind: "classic", UID: "01020304", Formatable: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(blank.Memory()) != 1024 || !slices.Contains(blank.techs, nfc.TechNdefFormatable) {
		t.Error("classic defaults not applied")
	}

	if _, err := FromConfig(config.SimTag{Kind: "felica", UID: "01"}); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

type recorder struct {
	mu      sync.Mutex
	found   []int
	removed []int
}

func (r *recorder) TagDiscovered(ep service.TagEndpoint) {
	r.mu.Lock()
	r.found = append(r.found, ep.Handle())
	r.mu.Unlock()
}

func (r *recorder) TagRemoved(handle int) {
	r.mu.Lock()
	r.removed = append(r.removed, handle)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.found), len(r.removed)
}

func TestHostRunSeeds(t *testing.T) {
	host := NewHost()
	gone := NewIsoDepTag([]byte{9, 9, 9, 9}, nil, nil)
	host.Seed(NewUltralightTag([]byte{0x04, 1, 2, 3, 4, 5, 6}, 16, false), gone)

	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Run(ctx, r) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if found, _ := r.counts(); found == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("seeded tags not placed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	gone.Remove()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Only the tag still in the field is taken away.
	if diff := cmp.Diff([]int{1}, r.removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if err := host.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
