package registry

import (
	"errors"
	"testing"
)

const (
	idA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	idC = "cccccccccccccccccccccccccccccccccccccccc"
)

func TestAddAndLookup(t *testing.T) {
	r := New(10)
	p, err := r.Add(1, idA, 100)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.Handle != 1 || p.PeerID != idA || p.LastSeen != 100 {
		t.Fatalf("unexpected peer: %+v", p)
	}
	if r.ByHandle(1) != p {
		t.Fatal("ByHandle did not return the stored peer")
	}
	if got := r.ByPeerID("mesh", idA); got != nil {
		t.Fatalf("peer resolvable by id before announce: %+v", got)
	}
	r.SetNetwork(1, "mesh", false)
	got := r.ByPeerID("mesh", idA)
	if got == nil || got.Network != "mesh" {
		t.Fatalf("ByPeerID after announce: %+v", got)
	}
}

func TestCapacity(t *testing.T) {
	r := New(2)
	if _, err := r.Add(1, idA, 0); err != nil {
		t.Fatalf("add 1: %v", err)
	}
	if _, err := r.Add(2, idB, 0); err != nil {
		t.Fatalf("add 2: %v", err)
	}
	if _, err := r.Add(3, idC, 0); !errors.Is(err, ErrCapacity) {
		t.Fatalf("want ErrCapacity, got %v", err)
	}
	// Existing peers unaffected by the rejected attempt.
	if r.Len() != 2 || r.ByHandle(1) == nil || r.ByHandle(2) == nil {
		t.Fatalf("registry disturbed by capacity reject: len=%d", r.Len())
	}
	r.Remove(1)
	if _, err := r.Add(3, idC, 0); err != nil {
		t.Fatalf("add after remove: %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := New(4)
	r.Add(1, idA, 0)
	r.SetNetwork(1, "mesh", false)
	r.Remove(1)
	r.Remove(1)
	if r.Len() != 0 {
		t.Fatalf("len after double remove: %d", r.Len())
	}
	if r.ByPeerID("mesh", idA) != nil {
		t.Fatal("index entry survived removal")
	}
	r.Remove(99) // absent handle is a no-op
}

func TestDuplicateIdentityLastAnnounceWins(t *testing.T) {
	r := New(4)
	r.Add(1, idA, 0)
	r.SetNetwork(1, "mesh", false)
	r.Add(2, idA, 0)
	r.SetNetwork(2, "mesh", false)

	if got := r.ByPeerID("mesh", idA); got == nil || got.Handle != 2 {
		t.Fatalf("index should point at the newer connection: %+v", got)
	}
	// Removing the superseded connection must not clear the newer entry.
	r.Remove(1)
	if got := r.ByPeerID("mesh", idA); got == nil || got.Handle != 2 {
		t.Fatalf("index lost after removing old connection: %+v", got)
	}
	r.Remove(2)
	if r.ByPeerID("mesh", idA) != nil {
		t.Fatal("index entry survived removing the winning connection")
	}
}

func TestNetworkChangeMovesIndex(t *testing.T) {
	r := New(4)
	r.Add(1, idA, 0)
	r.SetNetwork(1, "alpha", false)
	r.SetNetwork(1, "beta", true)
	if r.ByPeerID("alpha", idA) != nil {
		t.Fatal("stale index entry in old network")
	}
	got := r.ByPeerID("beta", idA)
	if got == nil || !got.IsHub {
		t.Fatalf("peer not indexed in new network: %+v", got)
	}
}

func TestAllInFiltersNamespace(t *testing.T) {
	r := New(8)
	r.Add(1, idA, 0)
	r.SetNetwork(1, "alpha", false)
	r.Add(2, idB, 0)
	r.SetNetwork(2, "beta", false)
	r.Add(3, idC, 0)
	r.SetNetwork(3, "alpha", false)

	alpha := r.AllIn("alpha")
	if len(alpha) != 2 || alpha[0].Handle != 1 || alpha[1].Handle != 3 {
		t.Fatalf("AllIn(alpha): %+v", alpha)
	}
	if got := r.AllIn("gamma"); len(got) != 0 {
		t.Fatalf("AllIn(gamma): %+v", got)
	}
}

func TestResolveAcrossNamespaces(t *testing.T) {
	r := New(8)
	r.Add(2, idA, 0)
	r.SetNetwork(2, "beta", false)
	r.Add(1, idA, 0)
	r.SetNetwork(1, "alpha", false)

	got := r.Resolve(idA)
	if got == nil || got.Handle != 1 {
		t.Fatalf("Resolve should prefer the oldest connection: %+v", got)
	}
	if r.Resolve(idB) != nil {
		t.Fatal("Resolve found a peer that does not exist")
	}
}

func TestTouch(t *testing.T) {
	r := New(4)
	r.Add(1, idA, 100)
	r.Touch(1, 250)
	if got := r.ByHandle(1).LastSeen; got != 250 {
		t.Fatalf("LastSeen after touch: %d", got)
	}
	r.Touch(42, 300) // absent handle is a no-op
}
