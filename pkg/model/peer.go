package model

// Peer is one connected mesh participant tracked by the hub.
type Peer struct {
	Handle   int64  // transport connection handle, unique while connected
	PeerID   string // client-asserted 40-hex identity
	Network  string // namespace; empty until the first announce
	IsHub    bool   // true when the peer is itself a relay hub
	LastSeen int64  // unix ms of the last inbound activity
}
