// Package server exposes a service.Dispatcher over WebSocket. Every frame is
// a binary CBOR wire.Envelope: clients send requests, the server answers
// with responses and pushes tag discovery events to every connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
	"github.com/dotside-studios/davi-nfc-tagd/service"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// Config holds the server configuration
type Config struct {
	Dispatcher *service.Dispatcher
	Port       int
	// MDNS advertises the server on the local network.
	MDNS bool
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config     Config
	httpServer *http.Server
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	upgrader   websocket.Upgrader

	clients    map[string]*conn
	clientsMux sync.RWMutex

	unsubscribe func()

	// mDNS service for auto-discovery
	mdnsServer *zeroconf.Server
}

// New creates a new server instance and starts forwarding manager events
// to connected clients.
func New(config Config) *Server {
	s := &Server{
		config:  config,
		clients: make(map[string]*conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.unsubscribe = config.Dispatcher.Manager().Subscribe(func(ev service.Event) {
		s.broadcast(service.EventFor(ev))
	})
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Start listens on the configured port and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			log.Printf("Warning: Failed to start mDNS service: %v", err)
			log.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	select {
	case <-s.ctx.Done():
		log.Println("Server context cancelled, initiating shutdown...")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down and closes every client connection.
func (s *Server) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}

	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		log.Printf("mDNS service stopped")
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		cancel()
		s.httpServer = nil
	}

	s.clientsMux.Lock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.clientsMux.Unlock()

	s.cancel()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// startMDNS registers the daemon as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	port := s.config.Port
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=" + buildinfo.ProtocolVersion,
		"encoding=cbor",
		"path=" + WebSocketPath,
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	log.Printf("mDNS service registered: %s on port %d", MDNSServiceName, port)
	return nil
}

// broadcast sends an event to all connected clients
func (s *Server) broadcast(ev *wire.Event) {
	data, err := wire.WrapEvent(ev)
	if err != nil {
		log.Printf("Server.broadcast: encode %s: %v", ev.Kind, err)
		return
	}

	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for id, c := range s.clients {
		if err := c.write(data); err != nil {
			log.Printf("WebSocket write error for %s: %v", id, err)
			c.close()
			delete(s.clients, id)
		}
	}
}

// register replays the tags in the field to c and adds it to the
// broadcast set. Both happen under clientsMux, so every event broadcast
// afterwards reaches c after the replay.
func (s *Server) register(c *conn) error {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for _, ep := range s.config.Dispatcher.Manager().Snapshot() {
		ev := service.EventFor(service.Event{Kind: wire.EventTagDiscovered, Handle: ep.Handle(), Endpoint: ep})
		data, err := wire.WrapEvent(ev)
		if err != nil {
			return err
		}
		if err := c.write(data); err != nil {
			return err
		}
	}
	s.clients[c.id] = c
	return nil
}

// handleWebSocket upgrades the connection, replays the tags currently in
// the field and serves requests until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	c := &conn{id: uuid.New().String(), ws: ws}
	log.Printf("WebSocket %s connected from %s", c.id, r.RemoteAddr)

	if err := s.register(c); err != nil {
		log.Printf("WebSocket %s: snapshot: %v", c.id, err)
		c.close()
		return
	}
	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, c.id)
		s.clientsMux.Unlock()
		c.close()
		log.Printf("WebSocket %s disconnected", c.id)
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			log.Printf("WebSocket %s: ignoring non-binary frame", c.id)
			continue
		}
		if err := s.serve(r.Context(), c, message); err != nil {
			log.Printf("WebSocket %s: %v", c.id, err)
			return
		}
	}
}

// serve answers one request frame. Undecodable requests get a Malformed
// response; only write failures end the connection.
func (s *Server) serve(ctx context.Context, c *conn, frame []byte) error {
	var resp *wire.Response
	env, err := wire.Unwrap(frame)
	switch {
	case err != nil:
		resp = wire.NewStatusResponse(wire.EventMessageID, wire.StatusMalformed, err.Error())
	case env.Type != wire.MessageTypeRequest:
		resp = wire.NewStatusResponse(wire.EventMessageID, wire.StatusMalformed, "expected a request, got "+env.Type.String())
	default:
		// The dispatcher validates the envelope fields itself so an unknown
		// operation is reported as such rather than as malformed.
		var req wire.Request
		if derr := wire.Unmarshal(env.Body, &req); derr != nil {
			resp = wire.NewStatusResponse(peekMessageID(env.Body), wire.StatusMalformed, derr.Error())
			break
		}
		if s.ctx.Err() != nil {
			resp = wire.NewStatusResponse(req.MessageID, wire.StatusUnavailable, "server is shutting down")
			break
		}
		if resp, err = s.config.Dispatcher.Call(ctx, &req); err != nil {
			resp = wire.NewStatusResponse(req.MessageID, wire.StatusInternal, err.Error())
		}
	}

	data, err := wire.WrapResponse(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return c.write(data)
}

// peekMessageID recovers the message id of a request that failed
// validation so the client can still correlate the answer.
func peekMessageID(body []byte) uint32 {
	var partial struct {
		MessageID uint32 `cbor:"1,keyasint"`
	}
	if err := wire.Unmarshal(body, &partial); err != nil {
		return wire.EventMessageID
	}
	return partial.MessageID
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"protocol":  buildinfo.ProtocolVersion,
		"clients":   s.ClientCount(),
		"tags":      len(s.config.Dispatcher.Manager().Snapshot()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// conn is one client connection. Writes are serialised because events and
// responses come from different goroutines.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *conn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.closed {
		c.closed = true
		c.ws.Close()
	}
}
