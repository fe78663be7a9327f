package tag

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// DefaultCallTimeout bounds a single remote call.
const DefaultCallTimeout = 5 * time.Second

// CommandResult is the outcome of a single SendCommand.
type CommandResult struct {
	Status  wire.ResultCode
	Payload []byte
}

// Proxy forwards tag session operations to the service through a
// wire.Caller. It holds no tag state.
type Proxy struct {
	caller  wire.Caller
	timeout time.Duration
	nextID  atomic.Uint32
}

// NewProxy creates a proxy over caller.
func NewProxy(caller wire.Caller) *Proxy {
	return &Proxy{caller: caller, timeout: DefaultCallTimeout}
}

// SetCallTimeout changes the bound on a single remote call.
func (p *Proxy) SetCallTimeout(d time.Duration) {
	p.timeout = d
}

func (p *Proxy) messageID() uint32 {
	for {
		if id := p.nextID.Add(1); id != wire.EventMessageID {
			return id
		}
	}
}

// call performs req and converts transport failures and non-zero status
// words into RemoteException. The operation code is returned as an error.
func (p *Proxy) call(req *wire.Request) (*wire.Response, error) {
	op := req.Operation.String()
	req.MessageID = p.messageID()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	resp, err := p.caller.Call(ctx, req)
	if err != nil {
		return nil, nfc.NewRemoteError(op, err)
	}
	if !resp.Status.IsSuccess() {
		return nil, nfc.NewRemoteError(op, fmt.Errorf("status %s: %s", resp.Status, resp.Message))
	}
	return resp, nfc.FromCode(nfc.ErrorCode(resp.Code), op)
}

// Connect selects tech on the tag.
func (p *Proxy) Connect(native int, tech nfc.Technology) error {
	_, err := p.call(&wire.Request{Operation: wire.OpConnect, Handle: int32(native), Technology: uint8(tech)})
	return err
}

// Reconnect re-selects the connected technology.
func (p *Proxy) Reconnect(native int) error {
	_, err := p.call(&wire.Request{Operation: wire.OpReconnect, Handle: int32(native)})
	return err
}

// Disconnect releases the connected technology.
func (p *Proxy) Disconnect(native int) error {
	_, err := p.call(&wire.Request{Operation: wire.OpDisconnect, Handle: int32(native)})
	return err
}

// IsPresent reports whether the tag is still in the field. Remote failures
// report false.
func (p *Proxy) IsPresent(native int) bool {
	resp, err := p.call(&wire.Request{Operation: wire.OpIsPresent, Handle: int32(native)})
	return err == nil && resp.Flag
}

// IsNdef reports whether the tag holds an NDEF container.
func (p *Proxy) IsNdef(native int) (bool, error) {
	resp, err := p.call(&wire.Request{Operation: wire.OpIsNdef, Handle: int32(native)})
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

// Transceive sends data on the connected technology. The returned error
// covers only failures to run the command; command outcomes are in the
// result status.
func (p *Proxy) Transceive(native int, data []byte, raw bool) (CommandResult, error) {
	resp, err := p.call(&wire.Request{Operation: wire.OpTransceive, Handle: int32(native), Data: data, Raw: raw})
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Status: resp.Result, Payload: resp.Data}, nil
}

// NdefRead returns the NDEF message bytes.
func (p *Proxy) NdefRead(native int) ([]byte, error) {
	resp, err := p.call(&wire.Request{Operation: wire.OpNdefRead, Handle: int32(native)})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// NdefWrite replaces the NDEF message bytes.
func (p *Proxy) NdefWrite(native int, data []byte) error {
	_, err := p.call(&wire.Request{Operation: wire.OpNdefWrite, Handle: int32(native), Data: data})
	return err
}

// NdefMakeReadOnly permanently locks the NDEF container.
func (p *Proxy) NdefMakeReadOnly(native int) error {
	_, err := p.call(&wire.Request{Operation: wire.OpNdefSetReadOnly, Handle: int32(native)})
	return err
}

// FormatNdef formats the tag with an empty NDEF container.
func (p *Proxy) FormatNdef(native int, key []byte) error {
	_, err := p.call(&wire.Request{Operation: wire.OpFormatNdef, Handle: int32(native), Data: key})
	return err
}

// GetTechList returns the technologies the service reports for the tag.
func (p *Proxy) GetTechList(native int) ([]nfc.Technology, error) {
	resp, err := p.call(&wire.Request{Operation: wire.OpGetTechList, Handle: int32(native)})
	if err != nil {
		return nil, err
	}
	techs := make([]nfc.Technology, len(resp.Data))
	for i, id := range resp.Data {
		techs[i] = nfc.Technology(id)
	}
	return techs, nil
}

// SetTimeout sets the send-command timeout for tech in milliseconds.
func (p *Proxy) SetTimeout(native int, tech nfc.Technology, ms int) error {
	_, err := p.call(&wire.Request{
		Operation:  wire.OpSetSendCommandTimeout,
		Handle:     int32(native),
		Technology: uint8(tech),
		Timeout:    int32(ms),
	})
	return err
}

// GetTimeout returns the send-command timeout for tech in milliseconds.
func (p *Proxy) GetTimeout(native int, tech nfc.Technology) (int, error) {
	resp, err := p.call(&wire.Request{Operation: wire.OpGetSendCommandTimeout, Handle: int32(native), Technology: uint8(tech)})
	if err != nil {
		return 0, err
	}
	return int(resp.Value), nil
}

// ResetTimeouts restores every send-command timeout to its default.
func (p *Proxy) ResetTimeouts(native int) error {
	_, err := p.call(&wire.Request{Operation: wire.OpResetTimeouts, Handle: int32(native)})
	return err
}

// CanMakeReadOnly asks whether the controller can lock an NDEF forum type.
func (p *Proxy) CanMakeReadOnly(forumType NdefForumType) bool {
	resp, err := p.call(&wire.Request{Operation: wire.OpCanSetReadOnly, Value: int32(forumType)})
	return err == nil && resp.Flag
}

// MaxTransceiveLength returns the largest frame tech accepts, or 0 when the
// service cannot be reached.
func (p *Proxy) MaxTransceiveLength(tech nfc.Technology) int {
	resp, err := p.call(&wire.Request{Operation: wire.OpGetMaxTransceiveLength, Technology: uint8(tech)})
	if err != nil {
		return 0
	}
	return int(resp.Value)
}

// IsSupportedApdusExtended reports whether extended-length APDUs are supported.
func (p *Proxy) IsSupportedApdusExtended() bool {
	resp, err := p.call(&wire.Request{Operation: wire.OpIsSupportedApdusExtended})
	return err == nil && resp.Flag
}
