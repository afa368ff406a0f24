package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/zalando/go-keyring"

	"engram/internal/engramerr"
)

// EncPrefix distinguishes encrypted content from cleartext in a single
// text column, so readers that don't hold the key can still tell them apart.
const EncPrefix = "enc:"

// KeyRing resolves a named 256-bit AES key from the OS keychain, creating
// one on first use. Each (service, key name) pair is a logically separate
// key: the skill vault and the memory field key never share one.
type KeyRing struct {
	service string
}

// NewKeyRing returns a KeyRing scoped to service (e.g. "engram-field-encryption-key").
func NewKeyRing(service string) *KeyRing {
	return &KeyRing{service: service}
}

// Key returns the named 256-bit key, generating and persisting a fresh one
// into the OS keychain if it doesn't exist yet.
func (k *KeyRing) Key(name string) ([]byte, error) {
	b64, err := keyring.Get(k.service, name)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			return nil, engramerr.Crypto("decode keychain key", decErr)
		}
		return key, nil
	}
	if err != keyring.ErrNotFound {
		return nil, engramerr.Keyring("read keychain entry", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, engramerr.Crypto("generate key", err)
	}
	if err := keyring.Set(k.service, name, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, engramerr.Keyring("store new keychain entry", err)
	}
	return key, nil
}

// Encrypt encrypts content with AES-256-GCM under key and returns
// "enc:" + base64(nonce || ciphertext+tag).
func Encrypt(content string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", engramerr.Crypto("init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", engramerr.Crypto("init gcm", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", engramerr.Crypto("generate nonce", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(content), nil)
	packed := append(nonce, ciphertext...)
	return EncPrefix + base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt reverses Encrypt. Content without the "enc:" prefix is returned
// unchanged, so cleartext-tier content round-trips through the same call site.
func Decrypt(content string, key []byte) (string, error) {
	encoded, ok := strings.CutPrefix(content, EncPrefix)
	if !ok {
		return content, nil
	}

	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", engramerr.Crypto("decode ciphertext", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", engramerr.Crypto("init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", engramerr.Crypto("init gcm", err)
	}

	nonceSize := gcm.NonceSize()
	if len(packed) < nonceSize {
		return "", engramerr.Crypto("ciphertext too short", nil)
	}
	nonce, ciphertext := packed[:nonceSize], packed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", engramerr.Crypto("decrypt", err)
	}
	return string(plaintext), nil
}
