package pcsc

import (
	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// CardType is the card family a reader reported in the ATR.
type CardType int

const (
	CardUnknown CardType = iota
	CardClassic1K
	CardClassic4K
	CardMini
	CardUltralight
	CardUltralightC
	CardUltralightEV1
	CardNTAG213
	CardNTAG215
	CardNTAG216
	CardPlus2K
	CardPlus4K
	CardISO14443_4
	CardISO15693
	CardFelica
)

// Card names from PC/SC Part 3 (storage cards).
var cardNames = map[uint16]CardType{
	0x0001: CardClassic1K,
	0x0002: CardClassic4K,
	0x0003: CardUltralight,
	0x0026: CardMini,
	0x0036: CardPlus2K,
	0x0037: CardPlus4K,
	0x003A: CardUltralightC,
}

// Standard byte of the PC/SC Part 3 historical bytes.
const (
	standardISO14443A3 = 0x03
	standardISO15693_3 = 0x0B
	standardISO15693_4 = 0x0C
	standardFelica     = 0x11
)

// pcscRID is the registered application provider id of the PC/SC workgroup.
var pcscRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

// DetectCardType parses an ATR built by a contactless reader. Storage
// cards carry the PC/SC Part 3 card name in the historical bytes; other
// cards speaking T=1 are taken for ISO 14443-4.
func DetectCardType(atr []byte) CardType {
	hist := HistoricalBytes(atr)
	// 80 4F 0C <RID> SS C0 C1 00 00 00 00
	for i := 0; i+11 < len(hist); i++ {
		if hist[i] != 0x80 || hist[i+1] != 0x4F || string(hist[i+3:i+8]) != string(pcscRID) {
			continue
		}
		switch hist[i+8] {
		case standardISO15693_3, standardISO15693_4:
			return CardISO15693
		case standardFelica:
			return CardFelica
		}
		name := uint16(hist[i+9])<<8 | uint16(hist[i+10])
		return cardNames[name]
	}

	if hasT1Protocol(atr) {
		return CardISO14443_4
	}
	return CardUnknown
}

// interfaceBytes walks the interface bytes of atr and calls fn with every
// TDi. It returns the offset of the historical bytes, -1 if truncated.
func interfaceBytes(atr []byte, fn func(td byte)) int {
	pos := 2
	td := atr[1]
	for {
		for _, bit := range []byte{0x10, 0x20, 0x40} {
			if td&bit != 0 {
				pos++
			}
		}
		if td&0x80 == 0 {
			return pos
		}
		if pos >= len(atr) {
			return -1
		}
		td = atr[pos]
		pos++
		if fn != nil {
			fn(td)
		}
	}
}

// HistoricalBytes returns the historical bytes of atr, nil if there are
// none or the ATR is truncated.
func HistoricalBytes(atr []byte) []byte {
	if len(atr) < 2 || (atr[0] != 0x3B && atr[0] != 0x3F) {
		return nil
	}
	n := int(atr[1] & 0x0F)
	pos := interfaceBytes(atr, nil)
	if n == 0 || pos < 0 || pos+n > len(atr) {
		return nil
	}
	return atr[pos : pos+n]
}

func hasT1Protocol(atr []byte) bool {
	if len(atr) < 3 || (atr[0] != 0x3B && atr[0] != 0x3F) {
		return false
	}
	t1 := false
	interfaceBytes(atr, func(td byte) {
		if td&0x0F == 0x01 {
			t1 = true
		}
	})
	return t1
}

// ParseGetVersion refines an Ultralight family card from its GET_VERSION
// answer.
// 00 <vendor> <type> <subtype> <major> <minor> <storage> <protocol>
func ParseGetVersion(resp []byte) CardType {
	if len(resp) < 8 || resp[1] != 0x04 {
		return CardUnknown
	}
	storage := resp[6]
	switch resp[2] {
	case 0x03:
		switch storage {
		case 0x0B, 0x0E:
			return CardUltralightEV1
		}
		return CardUltralight
	case 0x04:
		switch storage {
		case 0x0F:
			return CardNTAG213
		case 0x11:
			return CardNTAG215
		case 0x13:
			return CardNTAG216
		}
		return CardNTAG215
	}
	return CardUnknown
}

func (c CardType) String() string {
	switch c {
	case CardClassic1K:
		return "MIFARE Classic 1K"
	case CardClassic4K:
		return "MIFARE Classic 4K"
	case CardMini:
		return "MIFARE Mini"
	case CardUltralight:
		return "MIFARE Ultralight"
	case CardUltralightC:
		return "MIFARE Ultralight C"
	case CardUltralightEV1:
		return "MIFARE Ultralight EV1"
	case CardNTAG213:
		return "NTAG213"
	case CardNTAG215:
		return "NTAG215"
	case CardNTAG216:
		return "NTAG216"
	case CardPlus2K:
		return "MIFARE Plus 2K"
	case CardPlus4K:
		return "MIFARE Plus 4K"
	case CardISO14443_4:
		return "ISO14443-4"
	case CardISO15693:
		return "ISO15693"
	case CardFelica:
		return "FeliCa"
	default:
		return "Unknown"
	}
}

// IsType2 reports whether the card keeps an NFC Forum Type 2 memory layout.
func (c CardType) IsType2() bool {
	switch c {
	case CardUltralight, CardUltralightC, CardUltralightEV1, CardNTAG213, CardNTAG215, CardNTAG216:
		return true
	}
	return false
}

// IsClassic reports whether the card keeps a Mifare Classic sector layout.
func (c CardType) IsClassic() bool {
	switch c {
	case CardClassic1K, CardClassic4K, CardMini, CardPlus2K, CardPlus4K:
		return true
	}
	return false
}

func (c CardType) classicLayout() hardware.ClassicLayout {
	switch c {
	case CardMini:
		return hardware.ClassicLayoutForSize(320)
	case CardPlus2K:
		return hardware.ClassicLayoutForSize(2048)
	case CardClassic4K, CardPlus4K:
		return hardware.ClassicLayoutForSize(4096)
	}
	return hardware.ClassicLayoutForSize(1024)
}

// type2DataSize is the NDEF data area of each Type 2 card.
func (c CardType) type2DataSize() int {
	switch c {
	case CardUltralightC:
		return 144
	case CardNTAG213:
		return 144
	case CardNTAG215:
		return 496
	case CardNTAG216:
		return 872
	}
	return 48
}

// profile is what discovery reports for a card type.
type profile struct {
	techs  []nfc.Technology
	extras map[nfc.Technology]nfc.Attributes
}

func profileFor(c CardType, atr []byte) profile {
	nfcA := func(sak int, atqa []byte) nfc.Attributes {
		return nfc.Attributes{nfc.AttrSak: sak, nfc.AttrAtqa: atqa}
	}
	switch c {
	case CardClassic1K, CardClassic4K, CardMini, CardPlus2K, CardPlus4K:
		sak := 0x08
		switch c {
		case CardClassic4K, CardPlus4K:
			sak = 0x18
		case CardMini:
			sak = 0x09
		case CardPlus2K:
			sak = 0x10
		}
		return profile{
			techs: []nfc.Technology{nfc.TechNfcA, nfc.TechMifareClassic},
			extras: map[nfc.Technology]nfc.Attributes{
				nfc.TechNfcA:          nfcA(sak, []byte{0x04, 0x00}),
				nfc.TechMifareClassic: {nfc.AttrSak: sak},
			},
		}
	case CardUltralight, CardUltralightC, CardUltralightEV1, CardNTAG213, CardNTAG215, CardNTAG216:
		return profile{
			techs: []nfc.Technology{nfc.TechNfcA, nfc.TechMifareUltralight},
			extras: map[nfc.Technology]nfc.Attributes{
				nfc.TechNfcA:             nfcA(0x00, []byte{0x44, 0x00}),
				nfc.TechMifareUltralight: {nfc.AttrMifareUltralightC: c == CardUltralightC},
			},
		}
	case CardISO14443_4:
		return profile{
			techs: []nfc.Technology{nfc.TechNfcA, nfc.TechIsoDep},
			extras: map[nfc.Technology]nfc.Attributes{
				nfc.TechNfcA:   nfcA(0x20, []byte{0x44, 0x03}),
				nfc.TechIsoDep: {nfc.AttrHistoricalBytes: HistoricalBytes(atr)},
			},
		}
	case CardISO15693:
		return profile{
			techs:  []nfc.Technology{nfc.TechNfcV},
			extras: map[nfc.Technology]nfc.Attributes{nfc.TechNfcV: {nfc.AttrDsfId: 0, nfc.AttrResponseFlags: 0}},
		}
	case CardFelica:
		return profile{techs: []nfc.Technology{nfc.TechNfcF}}
	}
	return profile{}
}
