// Package auth holds the credential primitives: API key material, webhook
// signing secrets, CDP token validation, and the request identity context.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix marks every API key this service issues.
	KeyPrefix = "ck_"
	// StartChars is how many characters of the secret are kept for display.
	StartChars = 6
	// NameMaxLength bounds the merchant-chosen key name.
	NameMaxLength = 32

	keyBytes = 32
)

// GeneratedKey is a freshly minted API key. Key is shown to the merchant
// exactly once; only Hash is stored.
type GeneratedKey struct {
	Key   string
	Start string
	Hash  string
}

// NewKey mints an API key: KeyPrefix plus 32 random bytes in unpadded
// base64url.
func NewKey() (*GeneratedKey, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	key := KeyPrefix + secret
	return &GeneratedKey{
		Key:   key,
		Start: secret[:StartChars],
		Hash:  HashKey(key),
	}, nil
}

// HashKey maps a presented key to its at-rest form, hex sha256 of the full
// string including the prefix.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidKeyFormat is the cheap shape check run before any hashing or lookup.
func ValidKeyFormat(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && len(key) > len(KeyPrefix)+StartChars
}
