package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// HandlerFunc serves one operation. It fills resp; the returned error is
// encoded as the operation's error code.
type HandlerFunc func(ctx context.Context, req *wire.Request, resp *wire.Response) error

// Dispatcher serves the wire contract on a Manager. It implements
// wire.Caller, so clients in the same process can use it directly.
type Dispatcher struct {
	manager *Manager

	mu       sync.RWMutex
	handlers map[wire.Operation]HandlerFunc

	// OnPanic is called with the recovered value when a handler panics.
	OnPanic func(v any)
}

// NewDispatcher creates a dispatcher with a handler for every operation.
func NewDispatcher(m *Manager) *Dispatcher {
	d := &Dispatcher{
		manager:  m,
		handlers: make(map[wire.Operation]HandlerFunc),
	}
	d.registerDefaults()
	return d
}

// Manager returns the manager the dispatcher serves.
func (d *Dispatcher) Manager() *Manager {
	return d.manager
}

// Handle registers handler for op. Registering an operation twice fails.
func (d *Dispatcher) Handle(op wire.Operation, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if !op.IsValid() {
		return fmt.Errorf("unknown operation %d", op)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[op]; exists {
		return fmt.Errorf("handler for operation '%s' already registered", op)
	}
	d.handlers[op] = handler
	return nil
}

// Unhandle removes the handler for op.
func (d *Dispatcher) Unhandle(op wire.Operation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, op)
}

// Call implements wire.Caller.
func (d *Dispatcher) Call(ctx context.Context, req *wire.Request) (resp *wire.Response, err error) {
	if req.MessageID == wire.EventMessageID {
		return wire.NewStatusResponse(req.MessageID, wire.StatusMalformed, "message id must be non-zero"), nil
	}

	d.mu.RLock()
	handler, ok := d.handlers[req.Operation]
	d.mu.RUnlock()
	if !ok {
		return wire.NewStatusResponse(req.MessageID, wire.StatusUnknownOperation, req.Operation.String()), nil
	}

	defer func() {
		if v := recover(); v != nil {
			log.Printf("Dispatcher.Call: panic in %s: %v", req.Operation, v)
			if d.OnPanic != nil {
				d.OnPanic(v)
			}
			resp = wire.NewStatusResponse(req.MessageID, wire.StatusInternal, fmt.Sprint(v))
			err = nil
		}
	}()

	resp = wire.NewResponse(req)
	if herr := handler(ctx, req, resp); herr != nil {
		resp.Code = int32(nfc.GetErrorCode(herr))
	}
	return resp, nil
}

func (d *Dispatcher) registerDefaults() {
	m := d.manager
	handle := func(req *wire.Request) int { return int(req.Handle) }
	tech := func(req *wire.Request) nfc.Technology { return nfc.Technology(req.Technology) }

	d.handlers[wire.OpConnect] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.Connect(handle(req), tech(req))
	}
	d.handlers[wire.OpReconnect] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.Reconnect(handle(req))
	}
	d.handlers[wire.OpDisconnect] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.Disconnect(handle(req))
	}
	d.handlers[wire.OpIsPresent] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		resp.Flag = m.IsPresent(handle(req))
		return nil
	}
	d.handlers[wire.OpIsNdef] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		ok, err := m.IsNdef(handle(req))
		resp.Flag = ok
		return err
	}
	d.handlers[wire.OpTransceive] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		result, data, err := m.Transceive(handle(req), req.Data, req.Raw)
		if err != nil {
			return err
		}
		resp.Result = result
		resp.Data = data
		return nil
	}
	d.handlers[wire.OpNdefRead] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		data, err := m.NdefRead(handle(req))
		resp.Data = data
		return err
	}
	d.handlers[wire.OpNdefWrite] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.NdefWrite(handle(req), req.Data)
	}
	d.handlers[wire.OpNdefSetReadOnly] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.NdefMakeReadOnly(handle(req))
	}
	d.handlers[wire.OpFormatNdef] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.FormatNdef(handle(req), req.Data)
	}
	d.handlers[wire.OpGetTechList] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		techs, err := m.GetTechList(handle(req))
		for _, t := range techs {
			resp.Data = append(resp.Data, byte(t))
		}
		return err
	}
	d.handlers[wire.OpSetSendCommandTimeout] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.SetTimeout(handle(req), tech(req), int(req.Timeout))
	}
	d.handlers[wire.OpGetSendCommandTimeout] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		ms, err := m.Timeout(handle(req), tech(req))
		resp.Value = int32(ms)
		return err
	}
	d.handlers[wire.OpResetTimeouts] = func(_ context.Context, req *wire.Request, _ *wire.Response) error {
		return m.ResetTimeouts(handle(req))
	}
	d.handlers[wire.OpCanSetReadOnly] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		resp.Flag = m.CanMakeReadOnly(int(req.Value))
		return nil
	}
	d.handlers[wire.OpGetMaxTransceiveLength] = func(_ context.Context, req *wire.Request, resp *wire.Response) error {
		resp.Value = int32(m.MaxTransceiveLength(tech(req)))
		return nil
	}
	d.handlers[wire.OpIsSupportedApdusExtended] = func(_ context.Context, _ *wire.Request, resp *wire.Response) error {
		resp.Flag = m.IsSupportedApdusExtended()
		return nil
	}
}

// EventFor converts a manager event into its wire form.
func EventFor(ev Event) *wire.Event {
	out := &wire.Event{Kind: ev.Kind, Handle: int32(ev.Handle)}
	if ev.Endpoint == nil {
		return out
	}
	out.UID = ev.Endpoint.UID()
	for _, t := range ev.Endpoint.TechList() {
		out.Technologies = append(out.Technologies, uint8(t))
	}
	extras := ev.Endpoint.Extras()
	if len(extras) > 0 {
		out.Extras = make(map[uint8]map[string]any, len(extras))
		for t, attrs := range extras {
			out.Extras[uint8(t)] = map[string]any(attrs)
		}
	}
	return out
}
