package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pigeonhub/pkg/relay"
)

const (
	peerA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	peerB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newTestHub(t *testing.T, maxPeers int) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(peerA)
	router := relay.New(relay.Config{MaxPeers: maxPeers}, srv)
	srv.Bind(router)
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.HandleWS)
	mux.HandleFunc("/healthz", srv.HandleHealthz)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, peerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?peerId=" + peerID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", peerID[:8], err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	return m
}

func TestInvalidPeerIDRejected(t *testing.T) {
	_, ts := newTestHub(t, 20)
	for _, bad := range []string{"", "short", strings.ToUpper(peerA), peerA + "aa"} {
		ws := dial(t, ts, bad)
		m := readFrame(t, ws)
		if m["type"] != "error" {
			t.Errorf("peerId %q: got frame %v, want error", bad, m)
		}
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := ws.ReadMessage(); err == nil {
			t.Errorf("peerId %q: connection left open after error", bad)
		}
	}
}

func TestDiscoveryOverWebSocket(t *testing.T) {
	_, ts := newTestHub(t, 20)
	a := dial(t, ts, peerA)
	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"announce","networkName":"test-net"}`)); err != nil {
		t.Fatalf("announce a: %v", err)
	}

	b := dial(t, ts, peerB)
	if err := b.WriteMessage(websocket.TextMessage, []byte(`{"type":"announce","networkName":"test-net"}`)); err != nil {
		t.Fatalf("announce b: %v", err)
	}

	// Both sides see exactly one peer-discovered for the other.
	for _, tc := range []struct {
		ws   *websocket.Conn
		want string
	}{{a, peerB}, {b, peerA}} {
		m := readFrame(t, tc.ws)
		if m["type"] != "peer-discovered" {
			t.Fatalf("got %v, want peer-discovered", m)
		}
		data, _ := m["data"].(map[string]interface{})
		if data["peerId"] != tc.want {
			t.Errorf("discovered %v, want %s", data["peerId"], tc.want[:8])
		}
		if m["fromPeerId"] != "system" {
			t.Errorf("fromPeerId = %v, want system", m["fromPeerId"])
		}
	}
}

func TestSignalRelayOverWebSocket(t *testing.T) {
	_, ts := newTestHub(t, 20)
	a := dial(t, ts, peerA)
	a.WriteMessage(websocket.TextMessage, []byte(`{"type":"announce","networkName":"test-net"}`))
	b := dial(t, ts, peerB)
	b.WriteMessage(websocket.TextMessage, []byte(`{"type":"announce","networkName":"test-net"}`))
	readFrame(t, a) // peer-discovered for b
	readFrame(t, b) // backlog for a

	offer := fmt.Sprintf(`{"type":"offer","targetPeerId":%q,"data":{"sdp":"v=0"}}`, peerB)
	if err := a.WriteMessage(websocket.TextMessage, []byte(offer)); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	m := readFrame(t, b)
	if m["type"] != "offer" {
		t.Fatalf("got %v, want offer", m)
	}
	if m["fromPeerId"] != peerA {
		t.Errorf("fromPeerId = %v, want sender id", m["fromPeerId"])
	}
}

func TestCapacityOverWebSocket(t *testing.T) {
	_, ts := newTestHub(t, 1)
	dial(t, ts, peerA)
	b := dial(t, ts, peerB)
	m := readFrame(t, b)
	if m["type"] != "error" || !strings.Contains(fmt.Sprint(m["error"]), "full") {
		t.Fatalf("got %v, want hub full error", m)
	}
}

func TestSendToStalledPeerFailsInsteadOfBlocking(t *testing.T) {
	old := writeTimeout
	writeTimeout = 200 * time.Millisecond
	defer func() { writeTimeout = old }()

	srv, ts := newTestHub(t, 20)
	dial(t, ts, peerA) // client side never reads

	// Registration happens on the server goroutine; wait for it.
	deadline := time.Now().Add(5 * time.Second)
	for srv.Send(1, []byte(`{"type":"connected"}`)) != nil {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Flood the connection until the kernel buffers fill; the write deadline
	// must then surface an error rather than hang the caller.
	payload := bytes.Repeat([]byte("x"), 256<<10)
	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 256 && err == nil; i++ {
			err = srv.Send(1, payload)
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("sends to a stalled peer never failed")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("send blocked past the write deadline")
	}
}

func TestVerifierRejects(t *testing.T) {
	srv, ts := newTestHub(t, 20)
	srv.SetVerifier(func(r *http.Request, peerID string) error {
		return fmt.Errorf("no token")
	})
	ws := dial(t, ts, peerA)
	m := readFrame(t, ws)
	if m["type"] != "error" {
		t.Fatalf("got %v, want error", m)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestHub(t, 20)
	a := dial(t, ts, peerA)
	a.WriteMessage(websocket.TextMessage, []byte(`{"type":"announce"}`))
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["hubId"] != peerA {
		t.Errorf("hubId = %v", m["hubId"])
	}
	if m["peers"] != float64(1) {
		t.Errorf("peers = %v, want 1", m["peers"])
	}
	if m["federated"] != false {
		t.Errorf("federated = %v, want false", m["federated"])
	}
}
