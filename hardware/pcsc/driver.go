// Package pcsc drives contactless PC/SC readers (ACR122U and similar)
// through the system smart card service.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// Driver polls PC/SC readers for cards. It implements hardware.Driver.
type Driver struct {
	reader       string
	pollInterval time.Duration

	mu         sync.Mutex
	ctx        *scard.Context
	extended   bool
	nextHandle int

	// Owned by the Run goroutine.
	cards       map[string]*Endpoint
	unsupported map[string]bool
}

var _ hardware.Driver = (*Driver)(nil)

// New creates a driver for reader, or for every contactless reader when
// reader is empty.
func New(reader string, pollInterval time.Duration) *Driver {
	return &Driver{
		reader:       reader,
		pollInterval: pollInterval,
		nextHandle:   1,
		cards:        make(map[string]*Endpoint),
		unsupported:  make(map[string]bool),
	}
}

// SetExtendedLengthApdus declares whether the readers pass extended-length
// APDUs.
func (d *Driver) SetExtendedLengthApdus(supported bool) {
	d.mu.Lock()
	d.extended = supported
	d.mu.Unlock()
}

// ensureContext returns a valid PC/SC context, establishing a new one when
// the service was restarted.
func (d *Driver) ensureContext() (*scard.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		if ok, err := d.ctx.IsValid(); err == nil && ok {
			return d.ctx, nil
		}
		d.ctx.Release()
		d.ctx = nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	d.ctx = ctx
	return ctx, nil
}

func (d *Driver) IsEnabled() bool {
	ctx, err := d.ensureContext()
	if err != nil {
		return false
	}
	readers, err := d.readers(ctx)
	return err == nil && len(readers) > 0
}

// CanMakeReadOnly is true for Type 2 containers, the only ones the driver
// can lock.
func (d *Driver) CanMakeReadOnly(ndefType int) bool {
	return ndefType == hardware.NdefForumType2
}

func (d *Driver) IsoDepMaxTransceiveLength() int {
	if d.ExtendedLengthApdusSupported() {
		return nfc.IsoDepExtendedMaxTransceiveLength
	}
	return nfc.IsoDepShortMaxTransceiveLength
}

func (d *Driver) ExtendedLengthApdusSupported() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extended
}

// readers lists the contactless readers to poll.
func (d *Driver) readers(ctx *scard.Context) ([]string, error) {
	all, err := ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	if d.reader != "" {
		for _, r := range all {
			if r == d.reader {
				return []string{r}, nil
			}
		}
		return nil, nil
	}
	return filterContactlessReaders(all), nil
}

// filterContactlessReaders drops SAM slots.
func filterContactlessReaders(readers []string) []string {
	var filtered []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Run polls the readers until ctx is done. Cards still on a reader are
// reported removed when it returns.
func (d *Driver) Run(ctx context.Context, r service.Registrar) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.detachAll(r)

	for {
		if err := d.poll(r); err != nil {
			log.Printf("pcsc: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Driver) poll(r service.Registrar) error {
	sc, err := d.ensureContext()
	if err != nil {
		return err
	}
	readers, err := d.readers(sc)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(readers))
	if len(readers) > 0 {
		states := make([]scard.ReaderState, len(readers))
		for i, name := range readers {
			states[i] = scard.ReaderState{Reader: name, CurrentState: scard.StateUnaware}
		}
		if err := sc.GetStatusChange(states, 0); err != nil && !errors.Is(err, scard.ErrTimeout) {
			return fmt.Errorf("GetStatusChange: %w", err)
		}

		for _, st := range states {
			seen[st.Reader] = true
			present := st.EventState&scard.StatePresent != 0 && st.EventState&scard.StateMute == 0
			ep := d.cards[st.Reader]
			switch {
			case ep != nil && (!present || ep.isRemoved()):
				d.detach(r, st.Reader)
				if present {
					d.attach(sc, r, st.Reader)
				}
			case ep == nil && present:
				d.attach(sc, r, st.Reader)
			case !present:
				delete(d.unsupported, st.Reader)
			}
		}
	}

	for name := range d.cards {
		if !seen[name] {
			d.detach(r, name)
		}
	}
	return nil
}

func (d *Driver) attach(sc *scard.Context, r service.Registrar, reader string) {
	if d.unsupported[reader] {
		return
	}

	c, err := sc.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		log.Printf("pcsc: %s: connect: %v", reader, err)
		return
	}
	// The scard library panics on Transmit with any other protocol.
	if proto := c.ActiveProtocol(); proto != scard.ProtocolT0 && proto != scard.ProtocolT1 {
		c.Disconnect(scard.LeaveCard)
		log.Printf("pcsc: %s: unsupported protocol %d", reader, proto)
		d.unsupported[reader] = true
		return
	}
	status, err := c.Status()
	if err != nil {
		c.Disconnect(scard.LeaveCard)
		log.Printf("pcsc: %s: status: %v", reader, err)
		return
	}

	d.mu.Lock()
	handle := d.nextHandle
	d.nextHandle++
	d.mu.Unlock()

	ep, err := newEndpoint(handle, reader, c, status.Atr)
	if err != nil {
		c.Disconnect(scard.LeaveCard)
		log.Printf("pcsc: %s: %v", reader, err)
		d.unsupported[reader] = true
		return
	}
	d.cards[reader] = ep
	log.Printf("pcsc: %s: %s %X", reader, ep.CardType(), ep.UID())
	r.TagDiscovered(ep)
}

func (d *Driver) detach(r service.Registrar, reader string) {
	ep, ok := d.cards[reader]
	if !ok {
		return
	}
	delete(d.cards, reader)
	ep.close()
	r.TagRemoved(ep.Handle())
}

func (d *Driver) detachAll(r service.Registrar) {
	for name := range d.cards {
		d.detach(r, name)
	}
}

// Close releases the PC/SC context.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Release()
	d.ctx = nil
	return err
}
