// Package vault encrypts account secrets at rest with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// KeySize is the master key length in bytes.
const KeySize = 32

// Compile-time interface satisfaction check.
var _ driven.Vault = (*AESVault)(nil)

// ErrInvalidCiphertext is returned when a stored value cannot be decoded or
// authenticated, usually because it was written with a different master key.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// AESVault encrypts values with AES-256-GCM. Ciphertexts are base64 strings
// holding nonce || ciphertext || tag.
type AESVault struct {
	aead cipher.AEAD // nil when no key is configured.
}

// New creates an AESVault. key must be 32 bytes, or nil to create a vault
// whose operations all return driven.ErrEncryptionKeyNotSet.
func New(key []byte) (*AESVault, error) {
	if key == nil {
		return &AESVault{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return &AESVault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *AESVault) Encrypt(plaintext string) (string, error) {
	if v.aead == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *AESVault) Decrypt(encoded string) (string, error) {
	if v.aead == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+v.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return string(plaintext), nil
}
