package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// tokenBytes is the raw size of a device token: 32 bytes = 256 bits.
const tokenBytes = 32

// fingerprintBytes is how much of the BLAKE2b digest is shown in logs.
const fingerprintBytes = 6

// generateSecureToken returns a hex-encoded random token for device
// authentication. Its 64-character value space is disjoint from the
// 6-digit pairing codes.
func generateSecureToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// TokenFingerprint returns a short, non-reversible identifier for a token
// that is safe to write to logs.
func TokenFingerprint(token string) string {
	if token == "" {
		return "none"
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:fingerprintBytes])
}
