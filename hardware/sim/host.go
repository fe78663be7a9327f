package sim

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// Host is a simulated NFC controller. It implements service.DeviceHost.
type Host struct {
	mu            sync.Mutex
	enabled       bool
	isoDepMax     int
	extended      bool
	readOnlyTypes map[int]bool
	nextHandle    int

	seeded []*Tag
	placed []*Endpoint
}

// NewHost creates an enabled controller that supports short APDUs and can
// lock NFC Forum type 1 and 2 containers.
func NewHost() *Host {
	return &Host{
		enabled:       true,
		isoDepMax:     nfc.IsoDepShortMaxTransceiveLength,
		readOnlyTypes: map[int]bool{1: true, 2: true},
		nextHandle:    1,
	}
}

// SetEnabled turns the controller on or off.
func (h *Host) SetEnabled(enabled bool) {
	h.mu.Lock()
	h.enabled = enabled
	h.mu.Unlock()
}

// SetExtendedLengthApdus toggles extended-length APDU support and adjusts
// the ISO-DEP frame limit to match.
func (h *Host) SetExtendedLengthApdus(supported bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extended = supported
	if supported {
		h.isoDepMax = nfc.IsoDepExtendedMaxTransceiveLength
	} else {
		h.isoDepMax = nfc.IsoDepShortMaxTransceiveLength
	}
}

// SetIsoDepMaxTransceiveLength overrides the ISO-DEP frame limit.
func (h *Host) SetIsoDepMaxTransceiveLength(n int) {
	h.mu.Lock()
	h.isoDepMax = n
	h.mu.Unlock()
}

// SetReadOnlyTypes replaces the NDEF forum types that can be locked.
func (h *Host) SetReadOnlyTypes(types ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readOnlyTypes = make(map[int]bool, len(types))
	for _, t := range types {
		h.readOnlyTypes[t] = true
	}
}

func (h *Host) IsEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *Host) CanMakeReadOnly(ndefType int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readOnlyTypes[ndefType]
}

func (h *Host) IsoDepMaxTransceiveLength() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isoDepMax
}

func (h *Host) ExtendedLengthApdusSupported() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.extended
}

// Attach wraps t in an endpoint with a fresh native handle.
func (h *Host) Attach(t *Tag) *Endpoint {
	h.mu.Lock()
	handle := h.nextHandle
	h.nextHandle++
	h.mu.Unlock()
	return &Endpoint{handle: handle, tag: t, timeouts: make(map[nfc.Technology]int)}
}

// Place puts t in the field and reports it to r.
func (h *Host) Place(r service.Registrar, t *Tag) *Endpoint {
	ep := h.Attach(t)
	r.TagDiscovered(ep)
	return ep
}

// Take removes the tag of ep from the field and reports the loss to r.
func (h *Host) Take(r service.Registrar, ep *Endpoint) {
	ep.tag.Remove()
	r.TagRemoved(ep.handle)
}

// Seed queues tags that Run places in the field when it starts.
func (h *Host) Seed(tags ...*Tag) {
	h.mu.Lock()
	h.seeded = append(h.seeded, tags...)
	h.mu.Unlock()
}

// Run places the seeded tags, then holds them in the field until ctx is
// done and takes them away again.
func (h *Host) Run(ctx context.Context, r service.Registrar) error {
	h.mu.Lock()
	seeded := h.seeded
	h.seeded = nil
	h.mu.Unlock()

	for _, t := range seeded {
		ep := h.Place(r, t)
		log.Printf("sim: placed %s tag %X (handle %d)", t.kind, t.uid, ep.Handle())
		h.mu.Lock()
		h.placed = append(h.placed, ep)
		h.mu.Unlock()
	}

	<-ctx.Done()

	h.mu.Lock()
	placed := h.placed
	h.placed = nil
	h.mu.Unlock()
	for _, ep := range placed {
		if ep.tag.IsPresent() {
			h.Take(r, ep)
		}
	}
	return nil
}

// Close implements hardware.Driver.
func (h *Host) Close() error { return nil }

// Endpoint is the simulated connection to one tag. It implements
// service.TagEndpoint and service.TimeoutSetter.
type Endpoint struct {
	handle int
	tag    *Tag

	mu        sync.Mutex
	connected nfc.Technology
	timeouts  map[nfc.Technology]int
}

var (
	_ service.TagEndpoint   = (*Endpoint)(nil)
	_ service.TimeoutSetter = (*Endpoint)(nil)
	_ hardware.Driver       = (*Host)(nil)
)

// Tag returns the simulated tag behind the endpoint.
func (e *Endpoint) Tag() *Tag { return e.tag }

func (e *Endpoint) Handle() int { return e.handle }

func (e *Endpoint) UID() []byte {
	uid, _, _ := e.tag.snapshot()
	return uid
}

func (e *Endpoint) TechList() []nfc.Technology {
	_, techs, _ := e.tag.snapshot()
	return techs
}

func (e *Endpoint) Extras() map[nfc.Technology]nfc.Attributes {
	_, _, extras := e.tag.snapshot()
	return extras
}

func (e *Endpoint) Connect(tech nfc.Technology) error {
	if !e.tag.IsPresent() {
		return nfc.NewTagLostError("Connect", nil)
	}
	if !slices.Contains(e.TechList(), tech) {
		return fmt.Errorf("technology %s not available", tech)
	}
	e.mu.Lock()
	e.connected = tech
	e.mu.Unlock()
	e.tag.mu.Lock()
	e.tag.authSector = -1
	e.tag.logf("Connect(%s)", tech)
	e.tag.mu.Unlock()
	return nil
}

func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	e.connected = 0
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) Reconnect() error {
	tech, ok := e.ConnectedTechnology()
	if !ok {
		return fmt.Errorf("not connected")
	}
	return e.Connect(tech)
}

func (e *Endpoint) ConnectedTechnology() (nfc.Technology, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected, e.connected != 0
}

// Timeout returns the timeout last applied for tech.
func (e *Endpoint) Timeout(tech nfc.Technology) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeouts[tech]
}

func (e *Endpoint) SetTimeout(tech nfc.Technology, ms int) {
	e.mu.Lock()
	e.timeouts[tech] = ms
	e.mu.Unlock()
}

func (e *Endpoint) Transceive(data []byte, raw bool) ([]byte, error) {
	tech, ok := e.ConnectedTechnology()
	if !ok {
		return nil, fmt.Errorf("not connected")
	}
	return e.tag.transceive(tech, data)
}

func (e *Endpoint) PresenceCheck() bool { return e.tag.IsPresent() }

func (e *Endpoint) IsPresent() bool { return e.tag.IsPresent() }

func (e *Endpoint) ReadNdef() ([]byte, error) {
	t := e.tag
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.present {
		return nil, nfc.NewTagLostError("ReadNdef", nil)
	}
	if !t.hasNdef {
		return nil, nfc.NewNotSupportedError("ReadNdef")
	}
	return slices.Clone(t.ndef), nil
}

func (e *Endpoint) WriteNdef(data []byte) error {
	t := e.tag
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.present:
		return nfc.NewTagLostError("WriteNdef", nil)
	case !t.hasNdef:
		return nfc.NewNotSupportedError("WriteNdef")
	case t.ndefReadOnly:
		return fmt.Errorf("NDEF container is read-only")
	case len(data) > t.ndefCapacity:
		return nfc.Errorf(nfc.ErrCodeExceededLength, "WriteNdef", "message of %d bytes exceeds capacity %d", len(data), t.ndefCapacity)
	}
	t.ndef = slices.Clone(data)
	t.logf("WriteNdef(%d bytes)", len(data))
	return nil
}

func (e *Endpoint) FormatNdef(key []byte) error {
	t := e.tag
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.present {
		return nfc.NewTagLostError("FormatNdef", nil)
	}
	if len(key) != 6 {
		return nfc.NewInvalidParamError("FormatNdef", "key must be 6 bytes, got %d", len(key))
	}
	if !slices.Contains(t.techs, nfc.TechNdefFormatable) || t.hasNdef {
		return fmt.Errorf("tag is not formatable")
	}
	t.hasNdef = true
	t.ndef = nil
	t.logf("FormatNdef")
	return nil
}

func (e *Endpoint) MakeReadOnly() error {
	t := e.tag
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.present {
		return nfc.NewTagLostError("MakeReadOnly", nil)
	}
	if !t.hasNdef {
		return nfc.NewNotSupportedError("MakeReadOnly")
	}
	t.ndefReadOnly = true
	t.logf("MakeReadOnly")
	return nil
}

func (e *Endpoint) CheckNdef() (service.NdefInfo, error) {
	t := e.tag
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.present {
		return service.NdefInfo{}, nfc.NewTagLostError("CheckNdef", nil)
	}
	if !t.hasNdef {
		return service.NdefInfo{}, nil
	}
	mode := 2
	if t.ndefReadOnly {
		mode = 1
	}
	return service.NdefInfo{Supported: true, MaxSize: t.ndefCapacity, Mode: mode}, nil
}
