package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/praxisworks/praxis/pkg/protocol"
)

// Crypto encrypts credentials at rest with AES-256-GCM. The key is loaded
// once at startup; rotating it invalidates stored secrets, which surface as
// CREDENTIAL_DECRYPT_FAILED with a remediation hint rather than a raw crypto
// error.
type Crypto struct {
	aead cipher.AEAD
}

// NewCrypto builds the cipher from a base64-encoded 32-byte key.
func NewCrypto(encodedKey string) (*Crypto, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}
	return &Crypto{aead: aead}, nil
}

// Encrypt seals a plaintext, returning base64(nonce || ciphertext).
func (c *Crypto) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value sealed by Encrypt. Failures carry the remediation
// hint instead of cipher internals.
func (c *Crypto) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", decryptFailed(err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", decryptFailed(fmt.Errorf("ciphertext too short"))
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", decryptFailed(err)
	}
	return string(plaintext), nil
}

func decryptFailed(err error) error {
	return protocol.NewAgentError(protocol.ErrCredentialDecryptError,
		"stored credential could not be decrypted; it may need re-entry", err)
}
