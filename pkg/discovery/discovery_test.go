//go:build !consul

package discovery

import "testing"

func TestStubRegisterIsNoOp(t *testing.T) {
	if err := Register("127.0.0.1:8500", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "", 3000); err != nil {
		t.Fatalf("stub register: %v", err)
	}
}

func TestStubLookupFails(t *testing.T) {
	// Callers treat a lookup failure as "use the configured bootstrap URL or
	// run standalone"; the stub must fail rather than return an empty URL.
	if _, err := LookupBootstrap("127.0.0.1:8500"); err == nil {
		t.Fatal("stub lookup returned no error")
	}
}
