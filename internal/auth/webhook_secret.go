package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// SecretPrefix marks webhook signing secrets.
	SecretPrefix = "whsec_"
	// SecretPreviewChars is how much of the secret body GetWebhook reveals.
	SecretPreviewChars = 8

	secretBytes = 32
)

// NewWebhookSecret mints a webhook signing secret: SecretPrefix plus 64 hex
// characters from 32 random bytes. Shown to the merchant once at creation
// and at each rotation.
func NewWebhookSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(raw), nil
}

// SecretPreview truncates a secret for display: the prefix and the first
// SecretPreviewChars of the body.
func SecretPreview(secret string) string {
	keep := len(SecretPrefix) + SecretPreviewChars
	if len(secret) <= keep {
		return secret
	}
	return secret[:keep] + "..."
}
