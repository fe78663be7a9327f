// Package libnfc drives PN53x style readers through libnfc. libfreefare
// gives NDEF access to Mifare Classic and Ultralight tags; every other
// ISO 14443-A tag is reached with raw frames.
package libnfc

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	nfctag "github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// deviceEnumRetries bounds how often the device list is read before
// opening fails.
const deviceEnumRetries = 3

// Driver polls one libnfc device. It keeps a single tag in session at a
// time: while a tag is present only its presence is checked.
type Driver struct {
	conn         string
	pollInterval time.Duration

	mu         sync.Mutex
	dev        nfc.Device
	opened     bool
	bus        *bus
	nextHandle int
	current    *Endpoint
}

var _ hardware.Driver = (*Driver)(nil)

// New creates a driver for the libnfc connection string conn. An empty
// conn picks the first device libnfc finds.
func New(conn string, pollInterval time.Duration) *Driver {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Driver{conn: conn, pollInterval: pollInterval, bus: &bus{}, nextHandle: 1}
}

// ListDevices returns the connection strings of the attached devices.
func ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < deviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", deviceEnumRetries, err)
}

func (d *Driver) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	dev, err := nfc.Open(d.conn)
	if err != nil {
		return fmt.Errorf("open %q: %w", d.conn, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return fmt.Errorf("initiator init: %w", err)
	}
	// Selecting a tag that left must fail instead of waiting for it.
	if err := dev.SetPropertyBool(nfc.InfiniteSelect, false); err != nil {
		dev.Close()
		return fmt.Errorf("disable infinite select: %w", err)
	}
	d.dev = dev
	d.bus.dev = &d.dev
	d.opened = true
	log.Printf("libnfc: opened %s", dev.Connection())
	return nil
}

func (d *Driver) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// CanMakeReadOnly is true for Type 2 containers, the only ones the driver
// can lock.
func (d *Driver) CanMakeReadOnly(ndefType int) bool {
	return ndefType == hardware.NdefForumType2
}

// IsoDepMaxTransceiveLength is bounded by the PN53x frame size.
func (d *Driver) IsoDepMaxTransceiveLength() int {
	return nfctag.IsoDepShortMaxTransceiveLength
}

func (d *Driver) ExtendedLengthApdusSupported() bool { return false }

// Run opens the device and polls it until ctx is done.
func (d *Driver) Run(ctx context.Context, r service.Registrar) error {
	if err := d.open(); err != nil {
		return err
	}
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.drop(r)
			return nil
		case <-ticker.C:
			d.poll(r)
		}
	}
}

func (d *Driver) poll(r service.Registrar) {
	d.mu.Lock()
	current := d.current
	d.mu.Unlock()

	if current != nil {
		if _, connected := current.ConnectedTechnology(); connected && current.IsPresent() {
			// The session detects a lost tag on its next exchange.
			return
		}
		if current.PresenceCheck() {
			return
		}
		d.drop(r)
		return
	}

	ep, err := d.discover()
	if err != nil {
		log.Printf("libnfc: poll: %v", err)
		return
	}
	if ep == nil {
		return
	}
	ep.refreshNdef()
	d.mu.Lock()
	d.current = ep
	d.mu.Unlock()
	log.Printf("libnfc: tag %X (handle %d) %v", ep.uid, ep.handle, ep.TechList())
	r.TagDiscovered(ep)
}

// discover looks for one ISO 14443-A tag.
func (d *Driver) discover() (*Endpoint, error) {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	targets, err := d.dev.InitiatorListPassiveTargets(modISO14443a)
	if err != nil {
		return nil, err
	}
	var target *nfc.ISO14443aTarget
	for _, t := range targets {
		if at, ok := t.(*nfc.ISO14443aTarget); ok && at.UIDLen > 0 {
			target = at
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	uid := slices.Clone(target.UID[:target.UIDLen])
	p := profileFor(target.Sak, target.Atqa, target.Ats[:target.AtsLen])

	d.mu.Lock()
	handle := d.nextHandle
	d.nextHandle++
	d.mu.Unlock()
	ep := newEndpoint(handle, d.bus, target, uid, p)

	if p.kind != kindOther {
		ft, ok, err := freefareTag(d.dev, uid)
		if err != nil {
			log.Printf("libnfc: freefare: %v", err)
		}
		if ok {
			attachFreefare(ep, &p, ft)
		}
	}
	if ep.classic == nil && ep.ultralight == nil {
		ep.kind = kindOther
	}
	return ep, nil
}

// drop reports the current tag as gone.
func (d *Driver) drop(r service.Registrar) {
	d.mu.Lock()
	ep := d.current
	d.current = nil
	d.mu.Unlock()
	if ep == nil {
		return
	}
	ep.markRemoved()
	r.TagRemoved(ep.handle)
}

// Close releases the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	return d.dev.Close()
}
