package nfc

import (
	"fmt"
	"strings"
)

// Technology identifies a tag protocol. Values are fixed and travel on the
// wire as a single byte.
type Technology uint8

const (
	TechUnknown          Technology = 0
	TechNfcA             Technology = 1
	TechNfcB             Technology = 2
	TechIsoDep           Technology = 3
	TechNfcF             Technology = 4 // FeliCa
	TechNfcV             Technology = 5 // ISO-15693
	TechNdef             Technology = 6
	TechNdefFormatable   Technology = 7
	TechMifareClassic    Technology = 8
	TechMifareUltralight Technology = 9
)

var technologyNames = map[Technology]string{
	TechNfcA:             "NfcA",
	TechNfcB:             "NfcB",
	TechIsoDep:           "IsoDep",
	TechNfcF:             "NfcF",
	TechNfcV:             "NfcV",
	TechNdef:             "Ndef",
	TechNdefFormatable:   "NdefFormatable",
	TechMifareClassic:    "MifareClassic",
	TechMifareUltralight: "MifareUltralight",
}

func (t Technology) String() string {
	if name, ok := technologyNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Technology(%d)", uint8(t))
}

// IsValid reports whether t is one of the known technologies.
func (t Technology) IsValid() bool {
	_, ok := technologyNames[t]
	return ok
}

// AllTechnologies returns every known technology in id order.
func AllTechnologies() []Technology {
	return []Technology{
		TechNfcA, TechNfcB, TechIsoDep, TechNfcF, TechNfcV,
		TechNdef, TechNdefFormatable, TechMifareClassic, TechMifareUltralight,
	}
}

// ParseTechnology resolves a technology by name, ignoring case.
// "iso15693" and "felica" are accepted as aliases.
func ParseTechnology(name string) (Technology, error) {
	switch strings.ToLower(name) {
	case "iso15693", "type5":
		return TechNfcV, nil
	case "felica":
		return TechNfcF, nil
	case "isodep", "iso-dep", "type4":
		return TechIsoDep, nil
	case "classic", "mifare":
		return TechMifareClassic, nil
	case "ultralight":
		return TechMifareUltralight, nil
	}
	for tech, techName := range technologyNames {
		if strings.EqualFold(techName, name) {
			return tech, nil
		}
	}
	return TechUnknown, fmt.Errorf("unknown technology %q", name)
}

// Well-known attribute keys found in the per-technology extras of a tag.
const (
	AttrSak               = "Sak"
	AttrAtqa              = "Atqa"
	AttrHistoricalBytes   = "HistoricalBytes"
	AttrHiLayerResponse   = "HiLayerResponse"
	AttrAppData           = "AppData"
	AttrProtocolInfo      = "ProtocolInfo"
	AttrDsfId             = "DsfId"
	AttrResponseFlags     = "ResponseFlags"
	AttrNdefMsg           = "NdefMsg"
	AttrNdefForumType     = "NdefForumType"
	AttrNdefTagLength     = "NdefTagLength"
	AttrNdefTagMode       = "NdefTagMode"
	AttrMifareUltralightC = "MifareUltralightC"
)

// Attributes holds the technology-specific values a tag reported at
// discovery. After a trip through CBOR integers may come back as int64 or
// uint64 and byte strings as []byte, so reads go through the typed accessors.
type Attributes map[string]any

// Int returns the integer stored under key.
func (a Attributes) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// IntOr returns the integer stored under key, or def when absent.
func (a Attributes) IntOr(key string, def int) int {
	if v, ok := a.Int(key); ok {
		return v
	}
	return def
}

// Bytes returns a copy of the byte string stored under key.
func (a Attributes) Bytes(key string) []byte {
	switch v := a[key].(type) {
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out
	case string:
		return []byte(v)
	}
	return nil
}

// Bool returns the boolean stored under key.
func (a Attributes) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case int, int64, uint64:
		n, _ := a.Int(key)
		return n != 0
	}
	return false
}

// Clone returns a shallow copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
