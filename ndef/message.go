// Package ndef encodes and decodes NDEF messages. Tag sessions treat the
// encoded bytes as an opaque payload; this package produces and consumes it.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when encoding a message with no records.
var ErrEmptyMessage = errors.New("cannot encode empty NDEF message")

// Message is an ordered list of NDEF records.
type Message struct {
	records []Record
}

// NewMessage creates a message from records.
func NewMessage(records ...Record) *Message {
	return &Message{records: append([]Record(nil), records...)}
}

// AddRecord appends a record.
func (m *Message) AddRecord(r Record) *Message {
	m.records = append(m.records, r)
	return m
}

// AddText appends a Text record.
func (m *Message) AddText(text, lang string) *Message {
	return m.AddRecord(NewTextRecord(text, lang))
}

// AddURI appends a URI record.
func (m *Message) AddURI(uri string) *Message {
	return m.AddRecord(NewURIRecord(uri))
}

// Records returns the records in order.
func (m *Message) Records() []Record {
	return m.records
}

// Len returns the number of records.
func (m *Message) Len() int {
	return len(m.records)
}

// Text returns the text of the first Text record.
func (m *Message) Text() (string, error) {
	for i := range m.records {
		if text, ok := m.records[i].Text(); ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("no text record found in NDEF message")
}

// URI returns the URI of the first URI record.
func (m *Message) URI() (string, error) {
	for i := range m.records {
		if uri, ok := m.records[i].URI(); ok {
			return uri, nil
		}
	}
	return "", fmt.Errorf("no URI record found in NDEF message")
}

// Encode converts the message to its byte representation.
func (m *Message) Encode() ([]byte, error) {
	if m == nil || len(m.records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, r := range m.records {
		header := r.TNF & maskTNF
		if i == 0 {
			header |= flagMB
		}
		if i == len(m.records)-1 {
			header |= flagME
		}
		short := len(r.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(r.ID) > 0 {
			header |= flagIL
		}
		if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}

		out = append(out, header, byte(len(r.Type)))
		if short {
			out = append(out, byte(len(r.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
		}
		if len(r.ID) > 0 {
			out = append(out, byte(len(r.ID)))
		}
		out = append(out, r.Type...)
		out = append(out, r.ID...)
		out = append(out, r.Payload...)
	}
	return out, nil
}

// Decode parses raw NDEF message bytes. Chunked records are rejected.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty NDEF message")
	}

	var records []Record
	offset := 0
	for offset < len(data) {
		header := data[offset]
		if header&flagCF != 0 {
			return nil, fmt.Errorf("chunked record at offset %d not supported", offset)
		}
		pos := offset + 1

		need := func(n int, what string) error {
			if pos+n > len(data) {
				return fmt.Errorf("invalid NDEF message: truncated %s at offset %d", what, pos)
			}
			return nil
		}

		if err := need(1, "type length"); err != nil {
			return nil, err
		}
		typeLen := int(data[pos])
		pos++

		var payloadLen int
		if header&flagSR != 0 {
			if err := need(1, "payload length"); err != nil {
				return nil, err
			}
			payloadLen = int(data[pos])
			pos++
		} else {
			if err := need(4, "payload length"); err != nil {
				return nil, err
			}
			payloadLen = int(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
		}

		idLen := 0
		if header&flagIL != 0 {
			if err := need(1, "id length"); err != nil {
				return nil, err
			}
			idLen = int(data[pos])
			pos++
		}

		if err := need(typeLen+idLen+payloadLen, "record body"); err != nil {
			return nil, err
		}
		r := Record{TNF: header & maskTNF}
		r.Type = append([]byte(nil), data[pos:pos+typeLen]...)
		pos += typeLen
		if idLen > 0 {
			r.ID = append([]byte(nil), data[pos:pos+idLen]...)
			pos += idLen
		}
		r.Payload = append([]byte(nil), data[pos:pos+payloadLen]...)
		pos += payloadLen

		records = append(records, r)
		offset = pos
		if header&flagME != 0 {
			break
		}
	}
	return &Message{records: records}, nil
}
