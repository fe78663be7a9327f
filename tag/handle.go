// Package tag implements the client side of tag sessions: the table of
// discovered tags, the proxy that forwards operations to the service, the
// shared BasicTagSession and the per-technology facades built on it.
package tag

import (
	"bytes"
	"log"
	"slices"
	"sync"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// TagHandle describes a discovered tag. It is immutable after discovery.
type TagHandle struct {
	ID           []byte
	Technologies []nfc.Technology
	Extras       map[nfc.Technology]nfc.Attributes
	NativeHandle int

	proxy *Proxy
}

// NewTagHandle creates a handle bound to proxy.
func NewTagHandle(id []byte, techs []nfc.Technology, extras map[nfc.Technology]nfc.Attributes, native int, proxy *Proxy) *TagHandle {
	return &TagHandle{
		ID:           slices.Clone(id),
		Technologies: slices.Clone(techs),
		Extras:       extras,
		NativeHandle: native,
		proxy:        proxy,
	}
}

// Proxy returns the proxy that reaches the service owning this tag.
func (h *TagHandle) Proxy() *Proxy {
	return h.proxy
}

// HasTechnology reports whether the tag advertised tech at discovery.
func (h *TagHandle) HasTechnology(tech nfc.Technology) bool {
	return slices.Contains(h.Technologies, tech)
}

// Attributes returns the extras reported for tech, never nil.
func (h *TagHandle) Attributes(tech nfc.Technology) nfc.Attributes {
	if attrs, ok := h.Extras[tech]; ok && attrs != nil {
		return attrs
	}
	return nfc.Attributes{}
}

// UID returns the tag id as uppercase hex.
func (h *TagHandle) UID() string {
	return nfc.BytesToHex(h.ID)
}

// Ref is an expiring reference to a tag in a Table. The zero Ref never
// resolves.
type Ref struct {
	index      uint32
	generation uint32
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r.generation == 0
}

// slot holds one tag and the session state shared by every facade on it.
type slot struct {
	generation uint32
	tag        *TagHandle
	active     nfc.Technology
	connected  bool
}

// Table owns the discovered tags. Removing a tag bumps its slot generation
// so every outstanding Ref stops resolving.
type Table struct {
	mu       sync.RWMutex
	slots    []slot
	free     []uint32
	byNative map[int]Ref
	onChange []func(wire.EventKind, Ref, *TagHandle)
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byNative: make(map[int]Ref)}
}

// Add stores h and returns its reference. Adding a tag already known under
// the same native handle and id returns the existing reference. A different
// tag under that native handle replaces it and is reported as lost first.
func (t *Table) Add(h *TagHandle) Ref {
	t.mu.Lock()
	var replaced *TagHandle
	var replacedRef Ref
	if old, ok := t.byNative[h.NativeHandle]; ok {
		if cur := t.slotLocked(old); cur != nil && bytes.Equal(cur.tag.ID, h.ID) {
			t.mu.Unlock()
			return old
		}
		replaced, _ = t.removeLocked(old)
		replacedRef = old
	}

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot{})
	}
	s := &t.slots[index]
	s.generation++
	s.tag = h
	s.active = nfc.TechUnknown
	s.connected = false

	ref := Ref{index: index, generation: s.generation}
	t.byNative[h.NativeHandle] = ref
	listeners := slices.Clone(t.onChange)
	t.mu.Unlock()

	for _, fn := range listeners {
		if replaced != nil {
			fn(wire.EventTagLost, replacedRef, replaced)
		}
		fn(wire.EventTagDiscovered, ref, h)
	}
	return ref
}

// Remove expires ref. It returns false if ref was already stale.
func (t *Table) Remove(ref Ref) bool {
	t.mu.Lock()
	h, ok := t.removeLocked(ref)
	listeners := slices.Clone(t.onChange)
	t.mu.Unlock()

	if ok {
		for _, fn := range listeners {
			fn(wire.EventTagLost, ref, h)
		}
	}
	return ok
}

// RemoveNative expires the tag with the given native handle.
func (t *Table) RemoveNative(native int) bool {
	t.mu.RLock()
	ref, ok := t.byNative[native]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return t.Remove(ref)
}

func (t *Table) removeLocked(ref Ref) (*TagHandle, bool) {
	s := t.slotLocked(ref)
	if s == nil {
		return nil, false
	}
	h := s.tag
	s.generation++
	s.tag = nil
	s.active = nfc.TechUnknown
	s.connected = false
	t.free = append(t.free, ref.index)
	if cur, ok := t.byNative[h.NativeHandle]; ok && cur == ref {
		delete(t.byNative, h.NativeHandle)
	}
	return h, true
}

func (t *Table) slotLocked(ref Ref) *slot {
	if ref.IsZero() || int(ref.index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[ref.index]
	if s.generation != ref.generation || s.tag == nil {
		return nil
	}
	return s
}

// Lookup resolves ref.
func (t *Table) Lookup(ref Ref) (*TagHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slotLocked(ref)
	if s == nil {
		return nil, false
	}
	return s.tag, true
}

// LookupNative returns the reference for a native handle.
func (t *Table) LookupNative(native int) (Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.byNative[native]
	return ref, ok
}

// Refs returns the live references in slot order.
func (t *Table) Refs() []Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	refs := make([]Ref, 0, len(t.byNative))
	for i := range t.slots {
		if t.slots[i].tag != nil {
			refs = append(refs, Ref{index: uint32(i), generation: t.slots[i].generation})
		}
	}
	return refs
}

// Len returns the number of live tags.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byNative)
}

// OnChange registers fn to run after a tag is added or removed.
func (t *Table) OnChange(fn func(kind wire.EventKind, ref Ref, h *TagHandle)) {
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// activeTechnology returns the technology currently connected on the tag.
func (t *Table) activeTechnology(ref Ref) (nfc.Technology, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slotLocked(ref)
	if s == nil || !s.connected {
		return nfc.TechUnknown, false
	}
	return s.active, true
}

// setActive records tech as the connected technology of the tag.
func (t *Table) setActive(ref Ref, tech nfc.Technology) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(ref)
	if s == nil {
		return false
	}
	s.active = tech
	s.connected = true
	return true
}

// clearActive marks the tag unconnected if tech is the active technology.
func (t *Table) clearActive(ref Ref, tech nfc.Technology) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slotLocked(ref)
	if s == nil || !s.connected || s.active != tech {
		return false
	}
	s.active = nfc.TechUnknown
	s.connected = false
	return true
}

// HandleEvent applies a discovery event from the service reached by proxy.
func (t *Table) HandleEvent(ev *wire.Event, proxy *Proxy) {
	switch ev.Kind {
	case wire.EventTagDiscovered:
		techs := make([]nfc.Technology, 0, len(ev.Technologies))
		for _, id := range ev.Technologies {
			techs = append(techs, nfc.Technology(id))
		}
		extras := make(map[nfc.Technology]nfc.Attributes, len(ev.Extras))
		for id, attrs := range ev.Extras {
			extras[nfc.Technology(id)] = nfc.Attributes(attrs)
		}
		h := NewTagHandle(ev.UID, techs, extras, int(ev.Handle), proxy)
		t.Add(h)
		log.Printf("Table.HandleEvent: tag %s discovered (handle %d, %v)", h.UID(), ev.Handle, techs)
	case wire.EventTagLost:
		if t.RemoveNative(int(ev.Handle)) {
			log.Printf("Table.HandleEvent: tag with handle %d lost", ev.Handle)
		}
	default:
		log.Printf("Table.HandleEvent: ignoring event kind %d", ev.Kind)
	}
}
