package sim

import (
	"fmt"

	"github.com/dotside-studios/davi-nfc-tagd/config"
	"github.com/dotside-studios/davi-nfc-tagd/ndef"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// FromConfig builds the tag described by a simulate entry.
func FromConfig(entry config.SimTag) (*Tag, error) {
	uid, err := nfc.HexToBytes(entry.UID)
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}

	var t *Tag
	switch entry.Kind {
	case "classic":
		sak, size := entry.Sak, entry.Size
		if sak == 0 {
			sak = 0x08
		}
		if size == 0 {
			size = 1024
		}
		t = NewClassicTag(uid, byte(sak), size)
	case "ultralight":
		t = NewUltralightTag(uid, orDefault(entry.Pages, 16), false)
	case "iso15693":
		t = NewIso15693Tag(uid, orDefault(entry.Blocks, 28), orDefault(entry.BlockSize, 4), 0)
	case "isodep":
		hist, err := nfc.HexToBytes(entry.Historical)
		if err != nil {
			return nil, fmt.Errorf("historical: %w", err)
		}
		t = NewIsoDepTag(uid, hist, nil)
	default:
		return nil, fmt.Errorf("unknown kind %q", entry.Kind)
	}

	if entry.Formatable {
		t.WithFormatable(defaultForumType(entry.Kind), len(t.mem))
	}
	if n := entry.Ndef; n != nil {
		var data []byte
		if n.Text != "" || n.URI != "" {
			msg := ndef.NewMessage()
			if n.Text != "" {
				msg.AddText(n.Text, "en")
			}
			if n.URI != "" {
				msg.AddURI(n.URI)
			}
			if data, err = msg.Encode(); err != nil {
				return nil, fmt.Errorf("ndef: %w", err)
			}
		}
		forum := n.ForumType
		if forum == 0 {
			forum = defaultForumType(entry.Kind)
		}
		t.WithNdef(forum, data, orDefault(n.Capacity, len(t.mem)))
	}
	return t, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defaultForumType(kind string) int {
	switch kind {
	case "classic":
		return 101
	case "ultralight":
		return 2
	case "iso15693":
		return 102
	case "isodep":
		return 4
	}
	return 0
}
