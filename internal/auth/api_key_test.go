package auth

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey_Format(t *testing.T) {
	generated, err := NewKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(generated.Key, KeyPrefix))
	secret := strings.TrimPrefix(generated.Key, KeyPrefix)
	assert.Len(t, secret, 43, "32 bytes in unpadded base64url")
	assert.Equal(t, secret[:StartChars], generated.Start)
	assert.Equal(t, HashKey(generated.Key), generated.Hash)
}

func TestNewKey_Unique(t *testing.T) {
	a, err := NewKey()
	require.NoError(t, err)
	b, err := NewKey()
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestHashKey(t *testing.T) {
	hash := HashKey("ck_example")

	assert.Len(t, hash, 64)
	_, err := hex.DecodeString(hash)
	assert.NoError(t, err)
	assert.Equal(t, hash, HashKey("ck_example"), "hashing is deterministic")
	assert.NotEqual(t, hash, HashKey("ck_exampl3"))
}

func TestValidKeyFormat(t *testing.T) {
	generated, err := NewKey()
	require.NoError(t, err)

	assert.True(t, ValidKeyFormat(generated.Key))
	assert.False(t, ValidKeyFormat(""))
	assert.False(t, ValidKeyFormat("ck_"))
	assert.False(t, ValidKeyFormat("ck_abc"), "shorter than the displayable start")
	assert.False(t, ValidKeyFormat("sk_"+strings.Repeat("a", 43)), "wrong prefix")
}

func TestNewWebhookSecret_Format(t *testing.T) {
	secret, err := NewWebhookSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, SecretPrefix))
	body := strings.TrimPrefix(secret, SecretPrefix)
	assert.Len(t, body, 64)
	_, err = hex.DecodeString(body)
	assert.NoError(t, err)

	other, err := NewWebhookSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestSecretPreview(t *testing.T) {
	secret := SecretPrefix + strings.Repeat("ab", 32)

	preview := SecretPreview(secret)
	assert.Equal(t, SecretPrefix+"abababab...", preview)
	assert.NotContains(t, preview[len(SecretPrefix)+SecretPreviewChars:], "ab", "the body is cut off")

	short := SecretPrefix + "ab"
	assert.Equal(t, short, SecretPreview(short), "short values pass through")
}
