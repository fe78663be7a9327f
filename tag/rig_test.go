package tag

import (
	"context"
	"sync"
	"testing"

	"github.com/dotside-studios/davi-nfc-tagd/hardware/sim"
	"github.com/dotside-studios/davi-nfc-tagd/service"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// wireCaller runs every call through the CBOR codec and counts operations.
type wireCaller struct {
	next wire.Caller

	mu  sync.Mutex
	ops map[wire.Operation]int
}

func (c *wireCaller) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	decoded, err := wire.DecodeRequest(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ops[decoded.Operation]++
	c.mu.Unlock()

	resp, err := c.next.Call(ctx, decoded)
	if err != nil {
		return nil, err
	}
	if data, err = wire.EncodeResponse(resp); err != nil {
		return nil, err
	}
	return wire.DecodeResponse(data)
}

func (c *wireCaller) count(op wire.Operation) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[op]
}

func (c *wireCaller) reset() {
	c.mu.Lock()
	clear(c.ops)
	c.mu.Unlock()
}

// rig connects a Table to a simulated controller through the full
// service stack.
type rig struct {
	host    *sim.Host
	manager *service.Manager
	caller  *wireCaller
	proxy   *Proxy
	table   *Table
}

func newRig(t *testing.T) *rig {
	t.Helper()
	host := sim.NewHost()
	manager := service.NewManager(host)
	caller := &wireCaller{next: service.NewDispatcher(manager), ops: make(map[wire.Operation]int)}
	r := &rig{
		host:    host,
		manager: manager,
		caller:  caller,
		proxy:   NewProxy(caller),
		table:   NewTable(),
	}
	unsubscribe := manager.Subscribe(func(ev service.Event) {
		data, err := wire.EncodeEvent(service.EventFor(ev))
		if err != nil {
			t.Errorf("encode event: %v", err)
			return
		}
		decoded, err := wire.DecodeEvent(data)
		if err != nil {
			t.Errorf("decode event: %v", err)
			return
		}
		r.table.HandleEvent(decoded, r.proxy)
	})
	t.Cleanup(unsubscribe)
	return r
}

// place puts tag in the field and returns its table reference.
func (r *rig) place(t *testing.T, tag *sim.Tag) (Ref, *sim.Endpoint) {
	t.Helper()
	ep := r.host.Place(r.manager, tag)
	ref, ok := r.table.LookupNative(ep.Handle())
	if !ok {
		t.Fatalf("tag with handle %d not in table", ep.Handle())
	}
	return ref, ep
}

func (r *rig) take(ep *sim.Endpoint) {
	r.host.Take(r.manager, ep)
}
