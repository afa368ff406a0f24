package vault

import (
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	m.Run()
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := Encrypt("the secret sauce", key)
	require.NoError(t, err)
	require.True(t, len(enc) > len(EncPrefix))
	require.Equal(t, EncPrefix, enc[:len(EncPrefix)])

	dec, err := Decrypt(enc, key)
	require.NoError(t, err)
	require.Equal(t, "the secret sauce", dec)
}

func TestDecrypt_ClearTextPassesThrough(t *testing.T) {
	dec, err := Decrypt("just plain text", nil)
	require.NoError(t, err)
	require.Equal(t, "just plain text", dec)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key := make([]byte, 32)
	a, err := Encrypt("same content", key)
	require.NoError(t, err)
	b, err := Encrypt("same content", key)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestKeyRing_CreatesThenReusesSameKey(t *testing.T) {
	kr := NewKeyRing("engram-test-service")

	k1, err := kr.Key("field-key")
	require.NoError(t, err)
	require.Len(t, k1, 32)

	k2, err := kr.Key("field-key")
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}
