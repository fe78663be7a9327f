package libnfc

import (
	"encoding/hex"
	"strings"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	nfctag "github.com/dotside-studios/davi-nfc-tagd/nfc"
)

type classicAdapter struct {
	tag freefare.ClassicTag
}

func (a *classicAdapter) Connect() error    { return a.tag.Connect() }
func (a *classicAdapter) Disconnect() error { return a.tag.Disconnect() }

func (a *classicAdapter) Authenticate(block byte, key [6]byte, keyType byte) error {
	kt := int(freefare.KeyA)
	if keyType == nfctag.KeyTypeB {
		kt = int(freefare.KeyB)
	}
	return a.tag.Authenticate(block, key, kt)
}

func (a *classicAdapter) ReadBlock(block byte) ([16]byte, error) {
	return a.tag.ReadBlock(block)
}

func (a *classicAdapter) WriteBlock(block byte, data [16]byte) error {
	return a.tag.WriteBlock(block, data)
}

type ultralightAdapter struct {
	tag freefare.UltralightTag
}

func (a *ultralightAdapter) Connect() error    { return a.tag.Connect() }
func (a *ultralightAdapter) Disconnect() error { return a.tag.Disconnect() }

func (a *ultralightAdapter) ReadPage(page byte) ([4]byte, error) {
	return a.tag.ReadPage(page)
}

func (a *ultralightAdapter) WritePage(page byte, data [4]byte) error {
	return a.tag.WritePage(page, data)
}

// freefareTag finds the libfreefare view of the tag with uid. ok is false
// when libfreefare does not handle the tag.
func freefareTag(dev nfc.Device, uid []byte) (tag freefare.Tag, ok bool, err error) {
	tags, err := freefare.GetTags(dev)
	if err != nil {
		return nil, false, err
	}
	want := hex.EncodeToString(uid)
	for _, t := range tags {
		if strings.EqualFold(t.UID(), want) {
			return t, true, nil
		}
	}
	return nil, false, nil
}

// attachFreefare gives ep block or page access through libfreefare. Tags
// libfreefare does not know stay without NDEF support.
func attachFreefare(ep *Endpoint, p *profile, t freefare.Tag) {
	switch ft := t.(type) {
	case freefare.ClassicTag:
		ep.classic = &classicAdapter{tag: ft}
	case freefare.UltralightTag:
		if ft.Type() == freefare.UltralightC {
			p.markUltralightC()
			ep.size = p.size
			ep.extras[nfctag.TechMifareUltralight] = p.extras[nfctag.TechMifareUltralight]
		}
		ep.ultralight = &ultralightAdapter{tag: ft}
	}
}
