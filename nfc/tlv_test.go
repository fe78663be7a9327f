package nfc

import (
	"bytes"
	"testing"
)

func TestTLVEncode_ShortMessage(t *testing.T) {
	result := TLVEncode([]byte{0x01, 0x02, 0x03, 0x04}, TLVNDEF)

	expected := []byte{0x03, 0x04, 0x01, 0x02, 0x03, 0x04, 0xFE}
	if !bytes.Equal(result, expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestTLVEncode_LongMessage(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i % 256)
	}

	result := TLVEncode(data, TLVNDEF)

	if result[0] != 0x03 || result[1] != 0xFF {
		t.Fatalf("unexpected header % X", result[:2])
	}
	// 300 = 0x012C
	if result[2] != 0x01 || result[3] != 0x2C {
		t.Errorf("Expected length bytes 0x01 0x2C, got 0x%02X 0x%02X", result[2], result[3])
	}
	if !bytes.Equal(result[4:4+len(data)], data) {
		t.Error("Data mismatch in long format TLV")
	}
	if result[len(result)-1] != TLVTerminator {
		t.Errorf("Expected terminator 0xFE, got 0x%02X", result[len(result)-1])
	}
}

func TestTLVDecode(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantValue []byte
		wantType  byte
	}{
		{"short", []byte{0x03, 0x02, 0xAA, 0xBB, 0xFE}, []byte{0xAA, 0xBB}, TLVNDEF},
		{"leading nulls", []byte{0x00, 0x00, 0x03, 0x01, 0xCC}, []byte{0xCC}, TLVNDEF},
		{"terminator first", []byte{0xFE, 0x03, 0x01, 0xCC}, nil, TLVTerminator},
		{"truncated", []byte{0x03, 0x05, 0xAA}, nil, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, tlvType := TLVDecode(tt.data)
			if !bytes.Equal(value, tt.wantValue) || tlvType != tt.wantType {
				t.Errorf("TLVDecode() = (% X, 0x%02X), want (% X, 0x%02X)", value, tlvType, tt.wantValue, tt.wantType)
			}
		})
	}
}

func TestTLVFindNDEF(t *testing.T) {
	// Lock control TLV, then the NDEF TLV
	data := []byte{0x01, 0x03, 0xA0, 0x10, 0x44, 0x03, 0x03, 0xD1, 0x01, 0x00, 0xFE}

	ndef, ok := TLVFindNDEF(data)
	if !ok {
		t.Fatal("NDEF TLV not found")
	}
	if !bytes.Equal(ndef, []byte{0xD1, 0x01, 0x00}) {
		t.Errorf("ndef = % X", ndef)
	}

	if _, ok := TLVFindNDEF([]byte{0x01, 0x01, 0x00, 0xFE, 0x03, 0x00}); ok {
		t.Error("NDEF TLV after terminator should not be found")
	}
}

func TestTLVFindNDEFSkipsControlTLVs(t *testing.T) {
	data := []byte{0x00, 0x01, 0x01, 0x11, 0x02, 0x02, 0x22, 0x33, 0x03, 0x02, 0xD0, 0x00, 0xFE}
	ndef, ok := TLVFindNDEF(data)
	if !ok || !bytes.Equal(ndef, []byte{0xD0, 0x00}) {
		t.Errorf("TLVFindNDEF() = % X, %v", ndef, ok)
	}
}
