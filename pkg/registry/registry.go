package registry

import (
	"errors"
	"sort"

	"pigeonhub/pkg/model"
)

// ErrCapacity is returned by Add when the hub is at its connection limit.
// Existing peers are never evicted to make room.
var ErrCapacity = errors.New("registry at capacity")

// Registry owns the set of live peer connections: a handle -> Peer map plus
// a (network, peerID) -> handle index for announce/signaling lookups. It is
// pure data-structure logic; the router serializes every call under its lock
// and the registry itself never performs I/O.
type Registry struct {
	max      int
	byHandle map[int64]*model.Peer
	byNetID  map[string]int64
}

func New(maxPeers int) *Registry {
	return &Registry{
		max:      maxPeers,
		byHandle: make(map[int64]*model.Peer),
		byNetID:  make(map[string]int64),
	}
}

func netKey(network, peerID string) string { return network + "\x00" + peerID }

// Add registers a new connection with its validated peer id. The peer joins
// no namespace until its first announce.
func (r *Registry) Add(handle int64, peerID string, now int64) (*model.Peer, error) {
	if len(r.byHandle) >= r.max {
		return nil, ErrCapacity
	}
	p := &model.Peer{Handle: handle, PeerID: peerID, LastSeen: now}
	r.byHandle[handle] = p
	return p, nil
}

// Remove drops a connection. Idempotent; a no-op when the handle is absent.
func (r *Registry) Remove(handle int64) {
	p, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)
	if p.Network != "" {
		key := netKey(p.Network, p.PeerID)
		// The index may point at a newer connection for the same identity
		// (last announce wins); only clear it when it is ours.
		if h, ok := r.byNetID[key]; ok && h == handle {
			delete(r.byNetID, key)
		}
	}
}

// ByHandle returns the peer bound to handle, or nil.
func (r *Registry) ByHandle(handle int64) *model.Peer {
	return r.byHandle[handle]
}

// ByPeerID resolves peerID within one namespace, or nil.
func (r *Registry) ByPeerID(network, peerID string) *model.Peer {
	h, ok := r.byNetID[netKey(network, peerID)]
	if !ok {
		return nil
	}
	return r.byHandle[h]
}

// Resolve finds peerID in any local namespace. When the same identity exists
// in several namespaces the oldest connection wins. Linear, bounded by the
// fixed capacity.
func (r *Registry) Resolve(peerID string) *model.Peer {
	var found *model.Peer
	for _, p := range r.byHandle {
		if p.PeerID != peerID {
			continue
		}
		if found == nil || p.Handle < found.Handle {
			found = p
		}
	}
	return found
}

// SetNetwork records the namespace and hub flag carried by an announce.
// Last announce wins: an index entry held by an older connection with the
// same identity is repointed to this one.
func (r *Registry) SetNetwork(handle int64, network string, isHub bool) *model.Peer {
	p, ok := r.byHandle[handle]
	if !ok {
		return nil
	}
	if p.Network != "" && p.Network != network {
		key := netKey(p.Network, p.PeerID)
		if h, ok := r.byNetID[key]; ok && h == handle {
			delete(r.byNetID, key)
		}
	}
	p.Network = network
	p.IsHub = isHub
	r.byNetID[netKey(network, p.PeerID)] = handle
	return p
}

// Touch updates the liveness timestamp for handle.
func (r *Registry) Touch(handle int64, now int64) {
	if p, ok := r.byHandle[handle]; ok {
		p.LastSeen = now
	}
}

// AllIn returns the members of network ordered by handle.
func (r *Registry) AllIn(network string) []*model.Peer {
	var out []*model.Peer
	for _, p := range r.byHandle {
		if p.Network == network {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// All returns every active peer ordered by handle.
func (r *Registry) All() []*model.Peer {
	out := make([]*model.Peer, 0, len(r.byHandle))
	for _, p := range r.byHandle {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Len reports the active peer count.
func (r *Registry) Len() int { return len(r.byHandle) }
