package libnfc

import (
	"slices"

	nfctag "github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/tag"
)

type tagKind int

const (
	kindOther tagKind = iota
	kindClassic
	kindUltralight
)

// profile is what discovery reports for a tag.
type profile struct {
	kind tagKind
	// size is the Classic memory size or the Type 2 data area.
	size   int
	techs  []nfctag.Technology
	extras map[nfctag.Technology]nfctag.Attributes
}

// profileFor classifies an ISO 14443-A target from its SAK. ats is the
// answer to select without the length byte.
func profileFor(sak byte, atqa [2]byte, ats []byte) profile {
	nfcA := nfctag.Attributes{nfctag.AttrSak: int(sak), nfctag.AttrAtqa: slices.Clone(atqa[:])}
	p := profile{
		techs:  []nfctag.Technology{nfctag.TechNfcA},
		extras: map[nfctag.Technology]nfctag.Attributes{nfctag.TechNfcA: nfcA},
	}

	if cp := tag.ClassicProfileFromSak(int(sak)); cp.Size > 0 && cp.Type != tag.MifareTypePro {
		p.kind = kindClassic
		p.size = cp.Size
		p.techs = append(p.techs, nfctag.TechMifareClassic)
		p.extras[nfctag.TechMifareClassic] = nfctag.Attributes{nfctag.AttrSak: int(sak)}
	}
	if sak&0x20 != 0 {
		p.techs = append(p.techs, nfctag.TechIsoDep)
		p.extras[nfctag.TechIsoDep] = nfctag.Attributes{nfctag.AttrHistoricalBytes: atsHistoricalBytes(ats)}
	}
	if sak == 0x00 {
		p.kind = kindUltralight
		p.size = 48
		p.techs = append(p.techs, nfctag.TechMifareUltralight)
		p.extras[nfctag.TechMifareUltralight] = nfctag.Attributes{nfctag.AttrMifareUltralightC: false}
	}
	return p
}

// markUltralightC records an Ultralight C, which has a larger data area.
func (p *profile) markUltralightC() {
	p.size = 144
	p.extras[nfctag.TechMifareUltralight] = nfctag.Attributes{nfctag.AttrMifareUltralightC: true}
}

// atsHistoricalBytes returns the historical bytes of an ATS that starts with
// the format byte T0.
func atsHistoricalBytes(ats []byte) []byte {
	if len(ats) == 0 {
		return nil
	}
	t0 := ats[0]
	i := 1
	for _, bit := range []byte{0x10, 0x20, 0x40} {
		if t0&bit != 0 {
			i++
		}
	}
	if i >= len(ats) {
		return nil
	}
	return slices.Clone(ats[i:])
}
