package service

import (
	"errors"
	"log"
	"maps"
	"slices"
	"sync"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// DefaultTimeoutMs is the send-command timeout for technologies without a
// configured default.
const DefaultTimeoutMs = 618

// Event is delivered to listeners when the set of tags changes.
type Event struct {
	Kind     wire.EventKind
	Handle   int
	Endpoint TagEndpoint // nil for TagLost
}

// Listener receives manager events. It runs synchronously and must not
// call back into the manager's mutating methods.
type Listener func(Event)

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeouts sets per-technology send-command timeouts in ms.
func WithDefaultTimeouts(timeouts map[nfc.Technology]int) Option {
	return func(m *Manager) {
		maps.Copy(m.defaultTimeouts, timeouts)
	}
}

// WithLogger enables per-command trace logging.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.debug = l
	}
}

// Manager resolves native handles to endpoints and runs tag operations on
// them. It is the only component that adds or removes endpoints.
type Manager struct {
	host DeviceHost

	mu              sync.RWMutex
	endpoints       map[int]TagEndpoint
	defaultTimeouts map[nfc.Technology]int
	timeouts        map[nfc.Technology]int

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	debug *log.Logger
}

// NewManager creates a manager over host.
func NewManager(host DeviceHost, opts ...Option) *Manager {
	m := &Manager{
		host:            host,
		endpoints:       make(map[int]TagEndpoint),
		defaultTimeouts: make(map[nfc.Technology]int),
		timeouts:        make(map[nfc.Technology]int),
		listeners:       make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) tracef(format string, args ...any) {
	if m.debug != nil {
		m.debug.Printf(format, args...)
	}
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) notify(ev Event) {
	m.listenerMu.RLock()
	listeners := slices.Collect(maps.Values(m.listeners))
	m.listenerMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// TagDiscovered registers an endpoint found by the hardware layer. An
// endpoint already registered under the same handle is replaced.
func (m *Manager) TagDiscovered(ep TagEndpoint) {
	m.mu.Lock()
	m.endpoints[ep.Handle()] = ep
	m.mu.Unlock()

	log.Printf("Manager.TagDiscovered: handle %d uid %s techs %v", ep.Handle(), nfc.BytesToHex(ep.UID()), ep.TechList())
	m.notify(Event{Kind: wire.EventTagDiscovered, Handle: ep.Handle(), Endpoint: ep})
}

// TagRemoved unregisters the endpoint for handle. Later operations on the
// handle fail with Disconnected.
func (m *Manager) TagRemoved(handle int) {
	m.mu.Lock()
	ep, ok := m.endpoints[handle]
	delete(m.endpoints, handle)
	m.mu.Unlock()
	if !ok {
		return
	}

	if _, connected := ep.ConnectedTechnology(); connected {
		if err := ep.Disconnect(); err != nil {
			m.tracef("Manager.TagRemoved: disconnect handle %d: %v", handle, err)
		}
	}
	log.Printf("Manager.TagRemoved: handle %d", handle)
	m.notify(Event{Kind: wire.EventTagLost, Handle: handle})
}

// Snapshot returns the registered endpoints ordered by handle.
func (m *Manager) Snapshot() []TagEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handles := slices.Sorted(maps.Keys(m.endpoints))
	out := make([]TagEndpoint, 0, len(handles))
	for _, h := range handles {
		out = append(out, m.endpoints[h])
	}
	return out
}

// endpoint resolves handle, failing with Disconnected when it is unknown.
func (m *Manager) endpoint(op string, handle int) (TagEndpoint, error) {
	m.mu.RLock()
	ep, ok := m.endpoints[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, nfc.Errorf(nfc.ErrCodeDisconnected, op, "no tag with handle %d", handle)
	}
	return ep, nil
}

// Connect selects tech on the tag. Only Connect reports a disabled
// controller; other operations act on the sessions already open.
func (m *Manager) Connect(handle int, tech nfc.Technology) error {
	const op = "Connect"
	if !m.host.IsEnabled() {
		return nfc.NewError(nfc.ErrCodeNotInitialized, op)
	}
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	if !ep.IsPresent() {
		return nfc.Errorf(nfc.ErrCodeDisconnected, op, "tag with handle %d left the field", handle)
	}
	if err := ep.Connect(tech); err != nil {
		m.tracef("Manager.Connect: handle %d %s refused: %v", handle, tech, err)
		return nfc.WrapError(nfc.ErrCodeDisconnected, op, "connect refused", err)
	}
	if ts, ok := ep.(TimeoutSetter); ok {
		ts.SetTimeout(tech, m.timeoutFor(tech))
	}
	return nil
}

// Reconnect re-selects the connected technology.
func (m *Manager) Reconnect(handle int) error {
	const op = "Reconnect"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	if _, ok := ep.ConnectedTechnology(); !ok {
		return nfc.NewDisconnectedError(op)
	}
	if err := ep.Reconnect(); err != nil {
		return nfc.WrapError(nfc.ErrCodeDisconnected, op, "reconnect failed", err)
	}
	return nil
}

// Disconnect releases the connected technology. An unconnected endpoint is
// left as is.
func (m *Manager) Disconnect(handle int) error {
	const op = "Disconnect"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	if _, ok := ep.ConnectedTechnology(); !ok {
		return nil
	}
	if err := ep.Disconnect(); err != nil {
		return nfc.NewFailureError(op, err)
	}
	return nil
}

// IsPresent reports whether the tag is still in the field.
func (m *Manager) IsPresent(handle int) bool {
	ep, err := m.endpoint("IsPresent", handle)
	if err != nil {
		return false
	}
	return ep.PresenceCheck()
}

// IsNdef reports whether the tag holds an NDEF container.
func (m *Manager) IsNdef(handle int) (bool, error) {
	const op = "IsNdef"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return false, err
	}
	info, err := ep.CheckNdef()
	if err != nil {
		return false, endpointError(op, err)
	}
	return info.Supported, nil
}

// Transceive sends data on the connected technology. Resolution failures
// are returned as errors; command outcomes as the result code.
func (m *Manager) Transceive(handle int, data []byte, raw bool) (wire.ResultCode, []byte, error) {
	const op = "Transceive"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return wire.ResultFailure, nil, err
	}
	tech, ok := ep.ConnectedTechnology()
	if !ok {
		return wire.ResultFailure, nil, nfc.NewDisconnectedError(op)
	}
	if limit := m.MaxTransceiveLength(tech); len(data) > limit {
		m.tracef("Manager.Transceive: handle %d %d bytes exceeds %d for %s", handle, len(data), limit, tech)
		return wire.ResultExceededLength, nil, nil
	}

	m.tracef("Manager.Transceive: handle %d >> % X", handle, data)
	resp, err := ep.Transceive(data, raw)
	if err != nil {
		if nfc.IsTagLostError(err) {
			return wire.ResultTagLost, nil, nil
		}
		m.tracef("Manager.Transceive: handle %d failed: %v", handle, err)
		return wire.ResultFailure, nil, nil
	}
	m.tracef("Manager.Transceive: handle %d << % X", handle, resp)
	return wire.ResultSuccess, resp, nil
}

// NdefRead returns the NDEF message bytes.
func (m *Manager) NdefRead(handle int) ([]byte, error) {
	const op = "NdefRead"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return nil, err
	}
	data, err := ep.ReadNdef()
	if err != nil {
		return nil, endpointError(op, err)
	}
	return data, nil
}

// NdefWrite replaces the NDEF message bytes.
func (m *Manager) NdefWrite(handle int, data []byte) error {
	const op = "NdefWrite"
	if len(data) == 0 {
		return nfc.NewInvalidParamError(op, "NDEF message must not be empty")
	}
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	return endpointError(op, ep.WriteNdef(data))
}

// NdefMakeReadOnly permanently locks the NDEF container.
func (m *Manager) NdefMakeReadOnly(handle int) error {
	const op = "NdefMakeReadOnly"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	return endpointError(op, ep.MakeReadOnly())
}

// FormatNdef formats the tag with an empty NDEF container.
func (m *Manager) FormatNdef(handle int, key []byte) error {
	const op = "FormatNdef"
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	return endpointError(op, ep.FormatNdef(key))
}

// GetTechList returns the technologies of the tag.
func (m *Manager) GetTechList(handle int) ([]nfc.Technology, error) {
	ep, err := m.endpoint("GetTechList", handle)
	if err != nil {
		return nil, err
	}
	return ep.TechList(), nil
}

// CanMakeReadOnly reports whether an NDEF forum type can be locked.
func (m *Manager) CanMakeReadOnly(ndefType int) bool {
	return m.host.CanMakeReadOnly(ndefType)
}

// MaxTransceiveLength returns the largest frame tech accepts.
func (m *Manager) MaxTransceiveLength(tech nfc.Technology) int {
	switch tech {
	case nfc.TechIsoDep:
		return m.host.IsoDepMaxTransceiveLength()
	case nfc.TechNfcF:
		return nfc.FelicaMaxTransceiveLength
	default:
		return nfc.DefaultMaxTransceiveLength
	}
}

// IsSupportedApdusExtended reports whether extended-length APDUs are supported.
func (m *Manager) IsSupportedApdusExtended() bool {
	return m.host.ExtendedLengthApdusSupported()
}

func (m *Manager) timeoutFor(tech nfc.Technology) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ms, ok := m.timeouts[tech]; ok {
		return ms
	}
	if ms, ok := m.defaultTimeouts[tech]; ok {
		return ms
	}
	return DefaultTimeoutMs
}

// SetTimeout sets the send-command timeout of tech and applies it to the
// endpoint when tech is connected.
func (m *Manager) SetTimeout(handle int, tech nfc.Technology, ms int) error {
	const op = "SetTimeout"
	if ms < 0 || !tech.IsValid() {
		return nfc.NewInvalidParamError(op, "invalid timeout %d for %s", ms, tech)
	}
	ep, err := m.endpoint(op, handle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.timeouts[tech] = ms
	m.mu.Unlock()

	if cur, ok := ep.ConnectedTechnology(); ok && cur == tech {
		if ts, ok := ep.(TimeoutSetter); ok {
			ts.SetTimeout(tech, ms)
		}
	}
	return nil
}

// Timeout returns the send-command timeout of tech.
func (m *Manager) Timeout(handle int, tech nfc.Technology) (int, error) {
	if _, err := m.endpoint("Timeout", handle); err != nil {
		return 0, err
	}
	return m.timeoutFor(tech), nil
}

// ResetTimeouts drops every timeout set through SetTimeout.
func (m *Manager) ResetTimeouts(handle int) error {
	ep, err := m.endpoint("ResetTimeouts", handle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	clear(m.timeouts)
	m.mu.Unlock()

	if tech, ok := ep.ConnectedTechnology(); ok {
		if ts, ok := ep.(TimeoutSetter); ok {
			ts.SetTimeout(tech, m.timeoutFor(tech))
		}
	}
	return nil
}

// endpointError keeps typed endpoint errors and maps the rest to Failure.
func endpointError(op string, err error) error {
	if err == nil {
		return nil
	}
	var nfcErr *nfc.NFCError
	if errors.As(err, &nfcErr) {
		return err
	}
	return nfc.NewFailureError(op, err)
}
