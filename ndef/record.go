package ndef

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Type Name Format values.
const (
	TNFEmpty       = 0x00
	TNFWellKnown   = 0x01
	TNFMedia       = 0x02
	TNFAbsoluteURI = 0x03
	TNFExternal    = 0x04
	TNFUnknown     = 0x05
	TNFUnchanged   = 0x06
)

// Record header flags.
const (
	flagMB  = 0x80 // Message Begin
	flagME  = 0x40 // Message End
	flagCF  = 0x20 // Chunk Flag
	flagSR  = 0x10 // Short Record
	flagIL  = 0x08 // ID Length present
	maskTNF = 0x07
)

// Record is a single NDEF record.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// IsText reports whether r is a well-known Text record.
func (r *Record) IsText() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// IsURI reports whether r is a well-known URI record.
func (r *Record) IsURI() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'U'
}

// Text returns the text of a Text record.
func (r *Record) Text() (string, bool) {
	if !r.IsText() {
		return "", false
	}
	text, err := parseTextPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// Language returns the language code of a Text record.
func (r *Record) Language() string {
	if !r.IsText() || len(r.Payload) == 0 {
		return ""
	}
	langLen := int(r.Payload[0] & 0x3F)
	if 1+langLen > len(r.Payload) {
		return ""
	}
	return string(r.Payload[1 : 1+langLen])
}

// URI returns the expanded URI of a URI record.
func (r *Record) URI() (string, bool) {
	if !r.IsURI() || len(r.Payload) == 0 {
		return "", false
	}
	code := int(r.Payload[0])
	prefix := ""
	if code < len(uriPrefixes) {
		prefix = uriPrefixes[code]
	}
	return prefix + string(r.Payload[1:]), true
}

// NewTextRecord creates a well-known Text record with a UTF-8 payload.
func NewTextRecord(text, lang string) Record {
	return Record{TNF: TNFWellKnown, Type: []byte("T"), Payload: MakeTextPayload(text, lang)}
}

// NewURIRecord creates a well-known URI record, abbreviating known prefixes.
func NewURIRecord(uri string) Record {
	return Record{TNF: TNFWellKnown, Type: []byte("U"), Payload: MakeURIPayload(uri)}
}

// NewMediaRecord creates a MIME media record.
func NewMediaRecord(mimeType string, data []byte) Record {
	return Record{TNF: TNFMedia, Type: []byte(mimeType), Payload: data}
}

// NewExternalRecord creates an NFC Forum external type record.
func NewExternalRecord(domainType string, data []byte) Record {
	return Record{TNF: TNFExternal, Type: []byte(domainType), Payload: data}
}

// MakeTextPayload creates a Text record payload. An empty lang defaults to "en".
func MakeTextPayload(text, lang string) []byte {
	if lang == "" {
		lang = "en"
	}
	langCode := []byte(lang)
	if len(langCode) > 0x3F {
		langCode = langCode[:0x3F]
	}
	payload := make([]byte, 1+len(langCode)+len(text))
	payload[0] = byte(len(langCode)) // UTF-8
	copy(payload[1:], langCode)
	copy(payload[1+len(langCode):], text)
	return payload
}

// uriPrefixes is the URI identifier code table of the URI record type.
var uriPrefixes = []string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://",
	"urn:", "pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://",
	"btgoep://", "tcpobex://", "irdaobex://", "file://", "urn:epc:id:",
	"urn:epc:tag:", "urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// MakeURIPayload creates a URI record payload using the longest matching
// identifier code.
func MakeURIPayload(uri string) []byte {
	code := 0
	for i, prefix := range uriPrefixes {
		if i == 0 {
			continue
		}
		if strings.HasPrefix(uri, prefix) && len(prefix) > len(uriPrefixes[code]) {
			code = i
		}
	}
	rest := uri[len(uriPrefixes[code]):]
	payload := make([]byte, 1+len(rest))
	payload[0] = byte(code)
	copy(payload[1:], rest)
	return payload
}

func parseTextPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := status&0x80 != 0

	start := 1 + langLength
	if start > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code or text missing)")
	}
	textBytes := payload[start:]

	if !isUTF16 {
		return string(textBytes), nil
	}
	if len(textBytes)%2 != 0 {
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(textBytes))
	}
	order := binary.ByteOrder(binary.BigEndian)
	if len(textBytes) >= 2 && textBytes[0] == 0xFF && textBytes[1] == 0xFE {
		order = binary.LittleEndian
		textBytes = textBytes[2:]
	} else if len(textBytes) >= 2 && textBytes[0] == 0xFE && textBytes[1] == 0xFF {
		textBytes = textBytes[2:]
	}
	u16s := make([]uint16, len(textBytes)/2)
	for i := range u16s {
		u16s[i] = order.Uint16(textBytes[i*2:])
	}
	return string(utf16.Decode(u16s)), nil
}
