//go:build !consul

package discovery

import (
	"fmt"
	"log"
)

// Register is a no-op when the consul build tag is not enabled.
func Register(consulAddr, hubID, advertise string, port int) error {
	log.Printf("consul registration requested (addr=%s) but consul build tag not enabled", consulAddr)
	return nil
}

// LookupBootstrap fails without the consul build tag; callers fall back to
// the explicitly configured bootstrap URL.
func LookupBootstrap(consulAddr string) (string, error) {
	return "", fmt.Errorf("consul lookup requires the consul build tag")
}
