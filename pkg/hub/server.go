package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pigeonhub/pkg/identity"
	"pigeonhub/pkg/model"
	"pigeonhub/pkg/relay"
)

// Server terminates peer WebSocket connections and adapts them to the
// routing engine: it assigns connection handles, validates the handshake,
// pumps inbound frames into the router and implements relay.Host for
// outbound delivery.
type Server struct {
	router   *relay.Router
	upgrader websocket.Upgrader
	verify   func(r *http.Request, peerID string) error

	mu     sync.RWMutex
	conns  map[int64]*peerConn
	nextID atomic.Int64

	hubID   string
	started time.Time
}

// writeTimeout bounds every outbound frame. Sends happen under the router's
// lock, so a peer that stops draining its socket must yield an error instead
// of blocking the dispatcher; the router counts the failed send as
// not-delivered.
var writeTimeout = 10 * time.Second

// gorilla/websocket allows one concurrent writer per connection, so every
// outbound frame goes through the per-connection write lock.
type peerConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *peerConn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func NewServer(hubID string) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:   map[int64]*peerConn{},
		hubID:   hubID,
		started: time.Now(),
	}
}

// Bind wires the routing engine. Must happen before the server accepts
// connections.
func (s *Server) Bind(router *relay.Router) { s.router = router }

// SetVerifier installs optional handshake auth, called with the request and
// the asserted peer id before the connection is admitted.
func (s *Server) SetVerifier(v func(*http.Request, string) error) { s.verify = v }

// HandleWS upgrades a peer connection. Identity comes from the ?peerId=
// query parameter; a missing or malformed id gets an error frame and an
// immediate close, before the core ever sees the connection.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peerId")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	c := &peerConn{ws: ws}
	if !identity.Valid(peerID) {
		_ = c.write(model.ErrorFrame("invalid peerId format"))
		ws.Close()
		log.Printf("connection rejected: invalid peerId %q", peerID)
		return
	}
	if s.verify != nil {
		if err := s.verify(r, peerID); err != nil {
			_ = c.write(model.ErrorFrame("unauthorized"))
			ws.Close()
			log.Printf("connection rejected for %s: %v", peerID[:8], err)
			return
		}
	}
	handle := s.nextID.Add(1)
	s.mu.Lock()
	s.conns[handle] = c
	s.mu.Unlock()
	if err := s.router.Connect(handle, peerID); err != nil {
		s.mu.Lock()
		delete(s.conns, handle)
		s.mu.Unlock()
		_ = c.write(model.ErrorFrame("hub full"))
		ws.Close()
		return
	}
	go s.readLoop(handle, c)
}

func (s *Server) readLoop(handle int64, c *peerConn) {
	defer func() {
		c.ws.Close()
		s.mu.Lock()
		delete(s.conns, handle)
		s.mu.Unlock()
		s.router.Disconnect(handle)
	}()
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			log.Printf("binary frame from connection %d ignored", handle)
			continue
		}
		s.router.HandleMessage(handle, payload)
	}
}

// Send implements relay.Host.
func (s *Server) Send(handle int64, data []byte) error {
	s.mu.RLock()
	c := s.conns[handle]
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("connection %d not open", handle)
	}
	return c.write(data)
}

// HandleHealthz reports hub status as JSON.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.router.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"hubId":             s.hubID,
		"peers":             snap.Peers,
		"federated":         snap.Federated,
		"uptimeSeconds":     int64(time.Since(s.started).Seconds()),
		"messagesReceived":  snap.Stats.Received,
		"messagesDelivered": snap.Stats.Delivered,
		"messagesDropped":   snap.Stats.Dropped,
	})
}
