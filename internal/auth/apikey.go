package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// APIKeyPrefix starts every generated API key, which tells them apart from
// JWTs in the Authorization header.
const APIKeyPrefix = "ylk_"

// GenerateAPIKey returns a new random key, its SHA-256 hash and the short
// prefix shown in listings.
func GenerateAPIKey() (key, hash, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = APIKeyPrefix + hex.EncodeToString(bytes)
	return key, HashAPIKey(key), key[:len(APIKeyPrefix)+8], nil
}

// HashAPIKey hashes a key for storage. API keys are high-entropy, so a fast
// hash is enough.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// IsAPIKey reports whether token looks like a generated API key.
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, APIKeyPrefix)
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
