package tag

import (
	"github.com/moov-io/bertlv"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// IsoDepTag gives APDU access to an ISO 14443-4 (Type 4) tag.
type IsoDepTag struct {
	BasicTagSession
	historicalBytes []byte
	hiLayerResponse []byte
	sak             int
	atqa            []byte
	appData         []byte
	protocolInfo    []byte
}

// NewIsoDepTag creates the ISO-DEP facade for the tag at ref.
func NewIsoDepTag(table *Table, ref Ref) (*IsoDepTag, error) {
	h, err := resolve(table, ref, nfc.TechIsoDep, "NewIsoDepTag")
	if err != nil {
		return nil, err
	}
	attrs := h.Attributes(nfc.TechIsoDep)
	// NfcA and NfcB carry the lower layer values on most controllers.
	nfcA := h.Attributes(nfc.TechNfcA)
	nfcB := h.Attributes(nfc.TechNfcB)

	t := &IsoDepTag{
		BasicTagSession: newBasicTagSession(table, ref, nfc.TechIsoDep),
		historicalBytes: attrs.Bytes(nfc.AttrHistoricalBytes),
		hiLayerResponse: attrs.Bytes(nfc.AttrHiLayerResponse),
		sak:             attrs.IntOr(nfc.AttrSak, nfcA.IntOr(nfc.AttrSak, 0)),
		atqa:            attrs.Bytes(nfc.AttrAtqa),
		appData:         attrs.Bytes(nfc.AttrAppData),
		protocolInfo:    attrs.Bytes(nfc.AttrProtocolInfo),
	}
	if t.atqa == nil {
		t.atqa = nfcA.Bytes(nfc.AttrAtqa)
	}
	if t.appData == nil {
		t.appData = nfcB.Bytes(nfc.AttrAppData)
	}
	if t.protocolInfo == nil {
		t.protocolInfo = nfcB.Bytes(nfc.AttrProtocolInfo)
	}
	return t, nil
}

// HistoricalBytes returns the ATS historical bytes of an NfcA tag.
func (t *IsoDepTag) HistoricalBytes() []byte { return t.historicalBytes }

// HiLayerResponse returns the ATTRIB response of an NfcB tag.
func (t *IsoDepTag) HiLayerResponse() []byte { return t.hiLayerResponse }

// Sak returns the NfcA SAK.
func (t *IsoDepTag) Sak() int { return t.sak }

// Atqa returns the NfcA ATQA.
func (t *IsoDepTag) Atqa() []byte { return t.atqa }

// AppData returns the NfcB application data.
func (t *IsoDepTag) AppData() []byte { return t.appData }

// ProtocolInfo returns the NfcB protocol info.
func (t *IsoDepTag) ProtocolInfo() []byte { return t.protocolInfo }

// Transmit sends an APDU and parses the status word.
func (t *IsoDepTag) Transmit(apdu []byte) (nfc.APDUResponse, error) {
	raw, err := t.SendCommand(apdu, false)
	if err != nil {
		return nfc.APDUResponse{}, err
	}
	resp, err := nfc.ParseAPDUResponse(raw)
	if err != nil {
		return nfc.APDUResponse{}, nfc.NewFailureError("Transmit", err)
	}
	return resp, nil
}

// SelectResult is the answer to SELECT by AID.
type SelectResult struct {
	StatusWord uint16
	// FCI is the decoded file control information, nil when the
	// application returned none.
	FCI []bertlv.TLV
	Raw []byte
}

// Selected reports whether the application was selected.
func (r *SelectResult) Selected() bool {
	return r.StatusWord == 0x9000
}

// Find returns the first TLV with the given tag anywhere in the FCI.
func (r *SelectResult) Find(tag string) (bertlv.TLV, bool) {
	return findTLV(r.FCI, tag)
}

func findTLV(tlvs []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, tlv := range tlvs {
		if tlv.Tag == tag {
			return tlv, true
		}
		if found, ok := findTLV(tlv.TLVs, tag); ok {
			return found, true
		}
	}
	return bertlv.TLV{}, false
}

// SelectApplication selects an application by AID. A rejected selection is
// not an error; check Selected.
func (t *IsoDepTag) SelectApplication(aid []byte) (*SelectResult, error) {
	const op = "SelectApplication"
	if len(aid) < nfc.MinAIDLength || len(aid) > nfc.MaxAIDLength {
		return nil, nfc.NewInvalidParamError(op, "AID length %d out of range [%d, %d]", len(aid), nfc.MinAIDLength, nfc.MaxAIDLength)
	}

	resp, err := t.Transmit(nfc.SelectFileByAIDAPDU(aid))
	if err != nil {
		return nil, err
	}
	result := &SelectResult{StatusWord: resp.StatusWord(), Raw: resp.Data}
	if len(resp.Data) > 0 {
		fci, err := bertlv.Decode(resp.Data)
		if err != nil {
			return nil, nfc.WrapError(nfc.ErrCodeFailure, op, "malformed FCI", err)
		}
		result.FCI = fci
	}
	return result, nil
}
