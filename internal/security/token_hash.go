package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// HashTokenHex returns a SHA-256 hash of the token string, hex-encoded.
// Used for storing and comparing refresh and activation tokens without
// persisting the raw token.
func HashTokenHex(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's
// hash with the stored hash. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashTokenHex(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// NewOpaqueToken generates nBytes of cryptographically secure randomness and
// returns the URL-safe plain token plus its SHA-256 hex hash. Only the hash
// may be persisted.
func NewOpaqueToken(nBytes int) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, HashTokenHex(plain), nil
}
