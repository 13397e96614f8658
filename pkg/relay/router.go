package relay

import (
	"log"
	"sync"
	"time"

	"pigeonhub/pkg/model"
	"pigeonhub/pkg/registry"
)

// Host is the narrow surface the routing engine needs from its transport:
// deliver bytes to one live connection. The router never touches sockets.
type Host interface {
	Send(handle int64, data []byte) error
}

// Federation is the hub-to-hub link as the router sees it: one connected
// flag, read atomically, and fire-and-forget sends.
type Federation interface {
	Connected() bool
	Send(data []byte) error
}

// Journal records peer lifecycle and routing-failure events for diagnostics.
// Recording is best effort and must never fail routing.
type Journal interface {
	Record(event, peerID, network, detail string)
}

// Stats are monotonic counters over the router's lifetime.
type Stats struct {
	Received  uint64
	Delivered uint64
	Dropped   uint64
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Peers     int
	Federated bool
	Stats     Stats
}

// Config carries the router knobs.
type Config struct {
	MaxPeers    int
	PeerTimeout time.Duration
	Now         func() int64 // unix ms; defaults to time.Now
}

// Router is the single routing authority. Every inbound event — peer
// messages, connects, disconnects, federation traffic, liveness ticks —
// funnels through its lock, so registry state and fan-out ordering are
// serialized and two concurrent announces for one namespace cannot
// interleave.
type Router struct {
	mu      sync.Mutex
	reg     *registry.Registry
	host    Host
	fed     Federation
	journal Journal
	now     func() int64
	timeout int64 // ms
	stats   Stats
}

func New(cfg Config, host Host) *Router {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 20
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Router{
		reg:     registry.New(cfg.MaxPeers),
		host:    host,
		now:     cfg.Now,
		timeout: cfg.PeerTimeout.Milliseconds(),
	}
}

// SetFederation wires the bootstrap link. Call before traffic flows.
func (r *Router) SetFederation(f Federation) { r.fed = f }

// SetJournal wires the optional event journal.
func (r *Router) SetJournal(j Journal) { r.journal = j }

// Connect admits a new transport connection. registry.ErrCapacity passes
// through unchanged; closing the rejected connection is the transport's job.
func (r *Router) Connect(handle int64, peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.reg.Add(handle, peerID, r.now()); err != nil {
		log.Printf("connection %d rejected: %v (active=%d)", handle, err, r.reg.Len())
		r.record("reject", peerID, "", err.Error())
		return err
	}
	log.Printf("peer connected: handle=%d peer=%s", handle, short(peerID))
	return nil
}

// Disconnect handles a transport close. Idempotent.
func (r *Router) Disconnect(handle int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(handle, "disconnect")
}

// Removal and departure notification are one logical operation: the
// broadcast is best effort, the removal unconditional. Explicit goodbyes,
// transport closes and liveness timeouts all land here.
func (r *Router) removeLocked(handle int64, reason string) {
	p := r.reg.ByHandle(handle)
	if p == nil {
		return
	}
	if p.Network != "" {
		ev := model.PeerDisconnected(p.PeerID, r.now())
		for _, other := range r.reg.AllIn(p.Network) {
			if other.Handle == handle {
				continue
			}
			if err := r.host.Send(other.Handle, ev); err != nil {
				log.Printf("departure notify to %s failed: %v", short(other.PeerID), err)
			}
		}
	}
	r.reg.Remove(handle)
	log.Printf("peer removed: peer=%s reason=%s", short(p.PeerID), reason)
	r.record("leave", p.PeerID, p.Network, reason)
}

// HandleMessage routes one inbound payload from a connected peer.
func (r *Router) HandleMessage(handle int64, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.reg.ByHandle(handle)
	if p == nil {
		log.Printf("message from unknown connection %d dropped", handle)
		return
	}
	r.reg.Touch(handle, r.now())
	r.stats.Received++
	env, err := Decode(payload)
	if err != nil {
		r.stats.Dropped++
		log.Printf("malformed message from %s dropped: %v", short(p.PeerID), err)
		return
	}
	switch {
	case env.Type == model.TypeAnnounce:
		r.announceLocked(p, env)
	case model.IsSignal(env.Type):
		r.signalLocked(p, env)
	case env.Type == model.TypeGoodbye:
		// Cleanup and departure notification ride on the transport close
		// that follows.
		log.Printf("peer %s said goodbye", short(p.PeerID))
	default:
		r.stats.Dropped++
		log.Printf("unhandled message type %q from %s dropped", env.Type, short(p.PeerID))
	}
}

func (r *Router) announceLocked(p *model.Peer, env *Envelope) {
	network := env.Network
	if network == "" {
		network = model.DefaultNetwork
	}
	r.reg.SetNetwork(p.Handle, network, env.IsHub)
	now := r.now()
	members := r.reg.AllIn(network)

	// Existing members learn about the newcomer first, then the newcomer
	// receives one event per existing member.
	discovered := model.PeerDiscovered(p.PeerID, p.IsHub, network, now)
	for _, other := range members {
		if other.Handle == p.Handle {
			continue
		}
		if err := r.host.Send(other.Handle, discovered); err != nil {
			log.Printf("discovery notify to %s failed: %v", short(other.PeerID), err)
			continue
		}
		r.stats.Delivered++
	}
	for _, other := range members {
		if other.Handle == p.Handle {
			continue
		}
		if err := r.host.Send(p.Handle, model.PeerDiscovered(other.PeerID, other.IsHub, network, now)); err != nil {
			log.Printf("discovery backlog to %s failed: %v", short(p.PeerID), err)
			continue
		}
		r.stats.Delivered++
	}
	log.Printf("peer %s announced in network %q (isHub=%v)", short(p.PeerID), network, p.IsHub)
	r.record("announce", p.PeerID, network, "")

	// Plain peers are advertised upstream so remote hubs can discover them;
	// hubs announce themselves on their own links.
	if !p.IsHub && r.fed != nil && r.fed.Connected() {
		if err := r.fed.Send(env.Raw); err != nil {
			log.Printf("announce relay to bootstrap failed: %v", err)
		}
	}
}

func (r *Router) signalLocked(p *model.Peer, env *Envelope) {
	if env.Target == "" {
		r.stats.Dropped++
		log.Printf("%s from %s has no targetPeerId; dropped", env.Type, short(p.PeerID))
		return
	}
	out := env.WithFrom(p.PeerID)
	if target := r.reg.Resolve(env.Target); target != nil {
		if err := r.host.Send(target.Handle, out); err != nil {
			r.stats.Dropped++
			log.Printf("%s to %s failed: %v", env.Type, short(env.Target), err)
			return
		}
		r.stats.Delivered++
		return
	}
	if r.fed != nil && r.fed.Connected() {
		if err := r.fed.Send(out); err != nil {
			r.stats.Dropped++
			log.Printf("%s relay to bootstrap failed: %v", env.Type, err)
			return
		}
		r.stats.Delivered++
		return
	}
	r.stats.Dropped++
	log.Printf("%s target %s unknown and no bootstrap link; dropped", env.Type, short(env.Target))
	r.record("route-miss", p.PeerID, p.Network, env.Type+" for "+short(env.Target))
}

// HandleFederated routes one inbound payload from the bootstrap hub.
func (r *Router) HandleFederated(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := Decode(payload)
	if err != nil {
		log.Printf("malformed bootstrap message dropped: %v", err)
		return
	}
	switch {
	case env.Type == model.TypeConnected:
		log.Printf("bootstrap hub confirmed connection")
	case env.Type == model.TypePeerDiscovered:
		if env.Network == "" || env.DataPeerID == "" {
			log.Printf("bootstrap peer-discovered without peer or network; dropped")
			return
		}
		n := 0
		for _, p := range r.reg.AllIn(env.Network) {
			if err := r.host.Send(p.Handle, env.Raw); err != nil {
				log.Printf("remote discovery to %s failed: %v", short(p.PeerID), err)
				continue
			}
			n++
		}
		r.stats.Delivered += uint64(n)
		log.Printf("remote peer %s forwarded to %d local peers in %q", short(env.DataPeerID), n, env.Network)
	case model.IsSignal(env.Type):
		if env.Target == "" {
			log.Printf("bootstrap %s without targetPeerId; dropped", env.Type)
			return
		}
		// One federation hop only: a target that is not local is dropped,
		// never relayed back upstream.
		target := r.reg.Resolve(env.Target)
		if target == nil {
			r.stats.Dropped++
			log.Printf("bootstrap %s for %s: target not local; dropped", env.Type, short(env.Target))
			return
		}
		if err := r.host.Send(target.Handle, env.Raw); err != nil {
			r.stats.Dropped++
			log.Printf("bootstrap %s to %s failed: %v", env.Type, short(env.Target), err)
			return
		}
		r.stats.Delivered++
	default:
		log.Printf("unhandled bootstrap message type %q dropped", env.Type)
	}
}

// Sweep evicts peers idle past the timeout. Runs on the liveness ticker and
// feeds the same removal path as an explicit disconnect. Returns the number
// of evicted peers.
func (r *Router) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now() - r.timeout
	var stale []int64
	for _, p := range r.reg.All() {
		if p.LastSeen < cutoff {
			stale = append(stale, p.Handle)
		}
	}
	for _, h := range stale {
		log.Printf("peer timeout: handle=%d", h)
		r.removeLocked(h, "timeout")
	}
	return len(stale)
}

// Snapshot returns the current counters for status reporting.
func (r *Router) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Peers:     r.reg.Len(),
		Federated: r.fed != nil && r.fed.Connected(),
		Stats:     r.stats,
	}
}

func (r *Router) record(event, peerID, network, detail string) {
	if r.journal != nil {
		r.journal.Record(event, peerID, network, detail)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
