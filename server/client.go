package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("client closed")

// Client is a connection to a tagd server. It implements wire.Caller, so a
// tag.Proxy can run over it.
type Client struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]chan *wire.Response
	err     error

	onEvent func(*wire.Event)
	done    chan struct{}
}

// Dial connects to the WebSocket endpoint at url (ws://host:port/ws).
// onEvent receives every event pushed by the server, starting with one
// TagDiscovered per tag already in the field. It runs on the read
// goroutine and must not block on calls through the same client.
func Dial(ctx context.Context, url string, onEvent func(*wire.Event)) (*Client, error) {
	header := http.Header{}
	header.Set("User-Agent", fmt.Sprintf("%s/%s", buildinfo.Name, buildinfo.Version))
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		id:      uuid.New().String(),
		ws:      ws,
		pending: make(map[uint32]chan *wire.Response),
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ID returns the client session id used in logs.
func (c *Client) ID() string {
	return c.id
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call implements wire.Caller.
func (c *Client) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	data, err := wire.WrapRequest(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if _, dup := c.pending[req.MessageID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("message id %d already in flight", req.MessageID)
	}
	c.pending[req.MessageID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.MessageID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Operation, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		env, err := wire.Unwrap(message)
		if err != nil {
			log.Printf("Client.readLoop: %s: %v", c.id, err)
			continue
		}
		switch env.Type {
		case wire.MessageTypeResponse:
			resp, err := wire.DecodeResponse(env.Body)
			if err != nil {
				log.Printf("Client.readLoop: %s: %v", c.id, err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.MessageID]
			c.mu.Unlock()
			if !ok {
				log.Printf("Client.readLoop: %s: response to unknown message %d", c.id, resp.MessageID)
				continue
			}
			ch <- resp
		case wire.MessageTypeEvent:
			ev, err := wire.DecodeEvent(env.Body)
			if err != nil {
				log.Printf("Client.readLoop: %s: %v", c.id, err)
				continue
			}
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		default:
			log.Printf("Client.readLoop: %s: unexpected %s", c.id, env.Type)
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.err = ErrClientClosed
	} else {
		c.err = fmt.Errorf("connection lost: %w", err)
	}
}
