// Package encryption seals cached conversation data with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// ErrCiphertext is returned for input that cannot be opened with this key
// and context.
var ErrCiphertext = errors.New("invalid ciphertext")

// Sealer encrypts values bound to a context string, typically the cache key,
// so a ciphertext copied under another key fails to open.
type Sealer interface {
	// Seal encrypts plaintext and returns base64 ciphertext.
	Seal(plaintext []byte, context string) (string, error)

	// Open reverses Seal. It fails unless context matches.
	Open(ciphertext string, context string) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	gcm cipher.AEAD
}

// NewAESSealer creates a sealer. key is either base64 of 32 bytes or 32 raw bytes.
func NewAESSealer(key string) (*AESSealer, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(keyBytes) != KeySize {
		keyBytes = []byte(key)
	}
	if len(keyBytes) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(keyBytes))
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESSealer{gcm: gcm}, nil
}

// Seal prepends a random nonce to the sealed data.
func (s *AESSealer) Seal(plaintext []byte, context string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, plaintext, []byte(context))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open authenticates and decrypts ciphertext.
func (s *AESSealer) Open(ciphertext string, context string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	n := s.gcm.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("%w: too short", ErrCiphertext)
	}
	plaintext, err := s.gcm.Open(nil, data[:n], data[n:], []byte(context))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return plaintext, nil
}

// GenerateKey returns a random base64 encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// PlainSealer stores values base64 encoded without encryption. Local
// development only.
type PlainSealer struct{}

// Seal encodes plaintext.
func (PlainSealer) Seal(plaintext []byte, _ string) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

// Open decodes ciphertext.
func (PlainSealer) Open(ciphertext string, _ string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return data, nil
}
