package federation

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pigeonhub/pkg/model"
)

// ErrNotConnected is returned by Send while the bootstrap link is down.
var ErrNotConnected = errors.New("bootstrap hub not connected")

// Handler consumes inbound bootstrap-hub traffic.
type Handler interface {
	HandleFederated(payload []byte)
}

// Config carries the bootstrap link settings.
type Config struct {
	URL      string        // bootstrap hub base URL (ws://, wss://, http(s) accepted)
	HubID    string        // this hub's 40-hex id, sent as ?peerId=
	Network  string        // hub mesh namespace announced upstream
	Port     int           // local listen port advertised upstream
	MaxPeers int
	Retry    time.Duration // fixed reconnect interval; no exponential backoff
}

// Client maintains the single outbound link to the bootstrap hub. While the
// link is down routing degrades to local-only and reconnects run on a fixed
// timer.
type Client struct {
	cfg      Config
	endpoint string
	handler  Handler

	connected atomic.Bool
	started   atomic.Bool
	mu        sync.Mutex
	conn      *websocket.Conn

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, h Handler) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap url: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https", "":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("bootstrap url: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("peerId", cfg.HubID)
	u.RawQuery = q.Encode()
	if cfg.Retry <= 0 {
		cfg.Retry = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		endpoint: u.String(),
		handler:  h,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the connect/reconnect loop until Close.
func (c *Client) Start() {
	c.started.Store(true)
	go c.loop()
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		conn, resp, err := websocket.DefaultDialer.Dial(c.endpoint, nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			log.Printf("bootstrap dial failed: %v (url=%s status=%d)", err, c.cfg.URL, status)
			if !c.pause() {
				return
			}
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.connected.Store(true)
		log.Printf("connected to bootstrap hub %s", c.cfg.URL)

		// Announce this hub so the remote side can route signaling back.
		if err := c.Send(model.HubAnnounce(c.cfg.HubID, c.cfg.Network, c.cfg.Port, c.cfg.MaxPeers)); err != nil {
			log.Printf("hub announce failed: %v", err)
		}

		c.readLoop(conn)

		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		log.Printf("bootstrap hub link down; routing degraded to local-only")
		if !c.pause() {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handler.HandleFederated(payload)
	}
}

func (c *Client) pause() bool {
	select {
	case <-c.stop:
		return false
	case <-time.After(c.cfg.Retry):
		return true
	}
}

// Connected reports the link state; the router reads this single boolean
// before every federation-dependent decision.
func (c *Client) Connected() bool { return c.connected.Load() }

// Send forwards data upstream, fire and forget.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close stops reconnecting and drops the link. Safe on a client that was
// never started; only the loop closes done.
func (c *Client) Close() {
	close(c.stop)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	if c.started.Load() {
		<-c.done
	}
}
