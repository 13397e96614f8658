package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid token")

// Claims bind a handshake token to one peer identity.
type Claims struct {
	PeerID string `json:"peerId"`
	jwt.RegisteredClaims
}

// Generate mints an HS256 token for peerID; used by ops tooling and tests.
func Generate(secret []byte, peerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		PeerID: peerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify checks the token signature and that it was minted for peerID.
func Verify(secret []byte, tokenStr, peerID string) error {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.PeerID != peerID {
		return ErrInvalid
	}
	return nil
}

// FromRequest extracts the handshake token from a ?token= query parameter or
// an Authorization bearer header.
func FromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
