package nfc

// TLV types found in the data area of Type 1/2 tags and Mifare Classic NDEF sectors
const (
	TLVNull        = 0x00 // Null TLV
	TLVLockCtrl    = 0x01 // Lock Control TLV
	TLVMemCtrl     = 0x02 // Memory Control TLV
	TLVNDEF        = 0x03 // NDEF Message TLV
	TLVProprietary = 0xFD // Proprietary TLV
	TLVTerminator  = 0xFE // Terminator TLV
)

// TLVEncode encodes data into TLV format followed by a terminator.
// Returns: [Type][Length][Value][0xFE]
func TLVEncode(data []byte, tlvType byte) []byte {
	length := len(data)
	result := make([]byte, 0, len(data)+5)
	result = append(result, tlvType)

	if length < 0xFF {
		result = append(result, byte(length))
	} else {
		// Long format: 0xFF followed by 2-byte big-endian length
		result = append(result, 0xFF, byte(length>>8), byte(length))
	}

	result = append(result, data...)
	return append(result, TLVTerminator)
}

// tlvHeader reads the length of the TLV starting at data[0] (the type byte).
// It returns the value offset relative to data[0] and the value length;
// ok is false when the header is truncated.
func tlvHeader(data []byte) (valueStart, length int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] == 0xFF {
		if len(data) < 4 {
			return 0, 0, false
		}
		return 4, int(data[2])<<8 | int(data[3]), true
	}
	return 2, int(data[1]), true
}

// walkTLV calls fn for every complete TLV until the terminator, a
// malformed record, or fn returning false.
func walkTLV(data []byte, fn func(tlvType byte, value []byte) bool) {
	offset := 0
	for offset < len(data) {
		tlvType := data[offset]
		switch tlvType {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return
		}

		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok {
			return
		}
		start := offset + valueStart
		if start+length > len(data) {
			return
		}
		if !fn(tlvType, data[start:start+length]) {
			return
		}
		offset = start + length
	}
}

// TLVDecode returns the value and type of the first non-null TLV.
// A terminator yields (nil, TLVTerminator); malformed data yields (nil, 0).
func TLVDecode(data []byte) (value []byte, tlvType byte) {
	for _, b := range data {
		if b == TLVNull {
			continue
		}
		if b == TLVTerminator {
			return nil, TLVTerminator
		}
		break
	}
	walkTLV(data, func(t byte, v []byte) bool {
		value, tlvType = v, t
		return false
	})
	return value, tlvType
}

// TLVFindNDEF finds the NDEF Message TLV in a TLV block.
func TLVFindNDEF(data []byte) ([]byte, bool) {
	var found []byte
	ok := false
	walkTLV(data, func(t byte, v []byte) bool {
		if t == TLVNDEF {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}
