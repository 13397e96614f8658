package model

import "encoding/json"

// Message types recognized by the routing engine.
const (
	TypeAnnounce         = "announce"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeGoodbye          = "goodbye"
	TypePeerDiscovered   = "peer-discovered"
	TypePeerDisconnected = "peer-disconnected"
	TypeConnected        = "connected"
	TypeError            = "error"
)

// SystemPeerID marks hub-originated events.
const SystemPeerID = "system"

// DefaultNetwork is the namespace used when an announce carries none.
const DefaultNetwork = "global"

// IsSignal reports whether t is one of the relayed signaling types.
func IsSignal(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

type peerData struct {
	PeerID string `json:"peerId"`
	IsHub  bool   `json:"isHub"`
}

type peerEvent struct {
	Type        string   `json:"type"`
	Data        peerData `json:"data"`
	NetworkName string   `json:"networkName,omitempty"`
	FromPeerID  string   `json:"fromPeerId"`
	Timestamp   int64    `json:"timestamp"`
}

// PeerDiscovered builds the event telling members of network about peerID.
func PeerDiscovered(peerID string, isHub bool, network string, ts int64) []byte {
	b, _ := json.Marshal(peerEvent{
		Type:        TypePeerDiscovered,
		Data:        peerData{PeerID: peerID, IsHub: isHub},
		NetworkName: network,
		FromPeerID:  SystemPeerID,
		Timestamp:   ts,
	})
	return b
}

// PeerDisconnected builds the departure event for peerID.
func PeerDisconnected(peerID string, ts int64) []byte {
	b, _ := json.Marshal(peerEvent{
		Type:       TypePeerDisconnected,
		Data:       peerData{PeerID: peerID},
		FromPeerID: SystemPeerID,
		Timestamp:  ts,
	})
	return b
}

// ErrorFrame builds the error message sent before a handshake reject.
func ErrorFrame(msg string) []byte {
	b, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{TypeError, msg})
	return b
}

type hubAnnounceData struct {
	PeerID       string   `json:"peerId"`
	IsHub        bool     `json:"isHub"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
}

type hubAnnounceMsg struct {
	Type        string          `json:"type"`
	Data        hubAnnounceData `json:"data"`
	NetworkName string          `json:"networkName"`
	MaxPeers    int             `json:"maxPeers"`
}

// HubAnnounce builds the announce a hub sends to its bootstrap hub on
// connect, so the remote hub can route signaling back to it.
func HubAnnounce(hubID, network string, port, maxPeers int) []byte {
	b, _ := json.Marshal(hubAnnounceMsg{
		Type: TypeAnnounce,
		Data: hubAnnounceData{
			PeerID:       hubID,
			IsHub:        true,
			Port:         port,
			Capabilities: []string{"signaling", "relay"},
		},
		NetworkName: network,
		MaxPeers:    maxPeers,
	})
	return b
}
