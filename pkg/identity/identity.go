package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"os"
)

// DeviceID derives this hub's stable peer id: the hash of the first
// non-loopback hardware address, falling back to the hostname when no
// usable interface exists.
func DeviceID() string {
	ifs, err := net.Interfaces()
	if err == nil {
		for _, it := range ifs {
			if it.Flags&net.FlagLoopback != 0 || len(it.HardwareAddr) == 0 {
				continue
			}
			return HashID(it.HardwareAddr)
		}
	}
	host, _ := os.Hostname()
	return HashID([]byte(host))
}

// HashID maps any stable device attribute to the mesh's peer id format.
// SHA-1 keeps ids compatible with peers already on the mesh.
func HashID(attr []byte) string {
	sum := sha1.Sum(attr)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s is a well-formed peer id: exactly 40 lowercase
// hexadecimal characters.
func Valid(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
