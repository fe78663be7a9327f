package tag

import (
	"bytes"
	"testing"

	"github.com/dotside-studios/davi-nfc-tagd/hardware/sim"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

func TestClassicProfileFromSak(t *testing.T) {
	tests := []struct {
		sak      int
		typ      MifareType
		size     int
		emulated bool
	}{
		{0x01, MifareTypeClassic, ClassicSize1K, false},
		{0x08, MifareTypeClassic, ClassicSize1K, false},
		{0x88, MifareTypeClassic, ClassicSize1K, false},
		{0x09, MifareTypeClassic, ClassicSizeMini, false},
		{0x10, MifareTypePlus, ClassicSize2K, false},
		{0x11, MifareTypePlus, ClassicSize4K, false},
		{0x18, MifareTypeClassic, ClassicSize4K, false},
		{0x28, MifareTypeClassic, ClassicSize1K, true},
		{0x38, MifareTypeClassic, ClassicSize4K, true},
		{0x98, MifareTypePro, ClassicSize4K, false},
		{0xB8, MifareTypePro, ClassicSize4K, false},
		{0x20, MifareTypeUnknown, 0, false},
		{-1, MifareTypeUnknown, 0, false},
	}
	for _, tt := range tests {
		got := ClassicProfileFromSak(tt.sak)
		if got.Type != tt.typ || got.Size != tt.size || got.Emulated != tt.emulated {
			t.Errorf("ClassicProfileFromSak(0x%02X) = %+v", tt.sak, got)
		}
	}
}

func TestClassicGeometry(t *testing.T) {
	r := newRig(t)
	ref, _ := r.place(t, sim.NewClassicTag([]byte{1, 2, 3, 4}, 0x18, ClassicSize4K))
	mc, err := NewMifareClassicTag(r.table, ref)
	if err != nil {
		t.Fatal(err)
	}

	if mc.SectorCount() != 40 || mc.BlockCount() != 256 {
		t.Fatalf("4K geometry: %d sectors, %d blocks", mc.SectorCount(), mc.BlockCount())
	}

	tests := []struct {
		sector, first, count int
	}{
		{0, 0, 4},
		{31, 124, 4},
		{32, 128, 16},
		{39, 240, 16},
	}
	for _, tt := range tests {
		first, err := mc.BlockIndexFromSector(tt.sector)
		if err != nil || first != tt.first {
			t.Errorf("BlockIndexFromSector(%d) = %d, %v", tt.sector, first, err)
		}
		count, err := mc.BlockCountInSector(tt.sector)
		if err != nil || count != tt.count {
			t.Errorf("BlockCountInSector(%d) = %d, %v", tt.sector, count, err)
		}
		for b := first; b < first+count; b++ {
			if s, err := mc.SectorIndexFromBlock(b); err != nil || s != tt.sector {
				t.Errorf("SectorIndexFromBlock(%d) = %d, %v", b, s, err)
			}
		}
	}

	if _, err := mc.BlockIndexFromSector(40); !nfc.IsInvalidParamError(err) {
		t.Errorf("sector 40: %v", err)
	}
	if _, err := mc.SectorIndexFromBlock(256); !nfc.IsInvalidParamError(err) {
		t.Errorf("block 256: %v", err)
	}
}

func TestClassicUnknownSakRejectsSectorOps(t *testing.T) {
	r := newRig(t)
	ref, _ := r.place(t, sim.NewClassicTag([]byte{1, 2, 3, 4}, 0x20, ClassicSize1K))
	mc, _ := NewMifareClassicTag(r.table, ref)

	if mc.MifareTagType() != MifareTypeUnknown || mc.Size() != 0 {
		t.Errorf("type %s size %d", mc.MifareTagType(), mc.Size())
	}
	if err := mc.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := mc.AuthenticateSector(0, nfc.KeyDefault, true); !nfc.IsInvalidParamError(err) {
		t.Errorf("authenticate: %v", err)
	}
	if _, err := mc.ReadSingleBlock(0); !nfc.IsInvalidParamError(err) {
		t.Errorf("read: %v", err)
	}
	if n := r.caller.count(wire.OpTransceive); n != 0 {
		t.Errorf("sent %d Transceive", n)
	}
}

func TestClassicPlus4KProfile(t *testing.T) {
	r := newRig(t)
	ref, _ := r.place(t, sim.NewClassicTag([]byte{1, 2, 3, 4}, 0x11, ClassicSize4K))
	mc, err := NewMifareClassicTag(r.table, ref)
	if err != nil {
		t.Fatal(err)
	}
	if mc.Size() != ClassicSize4K || mc.MifareTagType() != MifareTypePlus || mc.IsEmulated() || mc.SectorCount() != 40 {
		t.Errorf("size %d type %s emulated %v sectors %d", mc.Size(), mc.MifareTagType(), mc.IsEmulated(), mc.SectorCount())
	}
}

func TestClassicSectorOutOfRange(t *testing.T) {
	r := newRig(t)
	ref, _ := r.place(t, sim.NewClassicTag([]byte{1, 2, 3, 4}, 0x11, ClassicSize4K))
	mc, _ := NewMifareClassicTag(r.table, ref)
	if err := mc.Connect(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"authenticate -1", func() error { return mc.AuthenticateSector(-1, nfc.KeyDefault, true) }},
		{"authenticate 40", func() error { return mc.AuthenticateSector(40, nfc.KeyDefault, false) }},
		{"first block -1", func() error { _, err := mc.BlockIndexFromSector(-1); return err }},
		{"block count -1", func() error { _, err := mc.BlockCountInSector(-1); return err }},
		{"block count 40", func() error { _, err := mc.BlockCountInSector(40); return err }},
		{"sector of block -1", func() error { _, err := mc.SectorIndexFromBlock(-1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !nfc.IsInvalidParamError(err) {
				t.Errorf("got %v, want invalid parameter", err)
			}
		})
	}
	if n := r.caller.count(wire.OpTransceive); n != 0 {
		t.Errorf("sent %d Transceive", n)
	}
}

func TestClassicReadWrite(t *testing.T) {
	r := newRig(t)
	ref, _ := r.place(t, sim.NewClassicTag([]byte{0x11, 0x22, 0x33, 0x44}, 0x08, ClassicSize1K))
	mc, _ := NewMifareClassicTag(r.table, ref)
	if err := mc.Connect(); err != nil {
		t.Fatal(err)
	}

	if err := mc.AuthenticateSector(1, nfc.KeyNFCForum, true); nfc.GetErrorCode(err) != nfc.ErrCodeFailure {
		t.Errorf("wrong key: %v", err)
	}
	if err := mc.AuthenticateSector(1, []byte{1, 2, 3}, true); !nfc.IsInvalidParamError(err) {
		t.Errorf("short key: %v", err)
	}
	if err := mc.AuthenticateSector(1, nfc.KeyDefault, true); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	data := []byte("0123456789abcdef")
	if err := mc.WriteSingleBlock(5, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := mc.ReadSingleBlock(5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read = %q", got)
	}

	if err := mc.WriteSingleBlock(5, data[:15]); !nfc.IsInvalidParamError(err) {
		t.Errorf("short block: %v", err)
	}
	if _, err := mc.ReadSingleBlock(64); !nfc.IsInvalidParamError(err) {
		t.Errorf("block 64 on 1K: %v", err)
	}
}

func TestClassicValueOperations(t *testing.T) {
	r := newRig(t)
	ref, ep := r.place(t, sim.NewClassicTag([]byte{0x11, 0x22, 0x33, 0x44}, 0x08, ClassicSize1K))
	mc, _ := NewMifareClassicTag(r.table, ref)
	if err := mc.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := mc.AuthenticateSector(2, nfc.KeyDefault, false); err != nil {
		t.Fatal(err)
	}
	if err := mc.WriteSingleBlock(8, EncodeValueBlock(1000, 8)); err != nil {
		t.Fatal(err)
	}

	steps := []func() error{
		func() error { return mc.DecrementBlock(8, 250) },
		func() error { return mc.TransferToBlock(8) },
		func() error { return mc.RestoreFromBlock(8) },
		func() error { return mc.TransferToBlock(9) },
		func() error { return mc.IncrementBlock(9, 1) },
		func() error { return mc.TransferToBlock(9) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	mem := ep.Tag().Memory()
	if v, ok := DecodeValueBlock(mem[8*16 : 9*16]); !ok || v != 750 {
		t.Errorf("block 8 = %d (%v), want 750", v, ok)
	}
	if v, ok := DecodeValueBlock(mem[9*16 : 10*16]); !ok || v != 751 {
		t.Errorf("block 9 = %d (%v), want 751", v, ok)
	}

	if err := mc.IncrementBlock(8, -1); !nfc.IsInvalidParamError(err) {
		t.Errorf("negative value: %v", err)
	}
}

func TestValueBlockEncoding(t *testing.T) {
	block := EncodeValueBlock(-5, 0x12)
	if v, ok := DecodeValueBlock(block); !ok || v != -5 {
		t.Errorf("decode = %d, %v", v, ok)
	}
	block[4] ^= 0xFF
	if _, ok := DecodeValueBlock(block); ok {
		t.Error("corrupted block decoded")
	}
	if _, ok := DecodeValueBlock(block[:8]); ok {
		t.Error("short block decoded")
	}
}
