package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix is prepended to the hex digest in the delivery header.
const SignaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA-256 of payload under secret. The payload
// bytes must be the exact serialized body; re-encoding after signing breaks
// verification.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret, in constant
// time. The "sha256=" header prefix is accepted and stripped, so the value
// of the X-Webhook-Signature header can be passed through unchanged.
func Verify(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, SignaturePrefix)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}
