// Package seal implements the authenticated-encryption layer protecting
// document payloads at rest. AES-256-GCM gives confidentiality and
// tamper-evidence in a single primitive from the standard library crypto
// packages.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// KeyVersion tags sealed records so a future key-rotation scheme can
	// tell payloads apart. There is only one key today.
	KeyVersion = 1
)

// ErrIntegrity is returned when the GCM authentication tag does not verify:
// the ciphertext or nonce was tampered with or corrupted, or the wrong key is
// in use. Unseal never returns garbage plaintext.
var ErrIntegrity = errors.New("integrity verification failed")

// KeyProvider supplies the process master key. Implementations must return
// exactly KeySize bytes.
type KeyProvider interface {
	CurrentKey() ([]byte, error)
}

// StaticKey is the trivial KeyProvider holding key bytes in memory.
type StaticKey []byte

// CurrentKey returns the key bytes.
func (k StaticKey) CurrentKey() ([]byte, error) {
	return k, nil
}

// Engine seals and unseals payloads. The key is obtained once at
// construction and held only in memory; it is never logged and never appears
// in document metadata or audit records. Engine is stateless after
// construction and safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine obtains the current key from the provider and prepares the AEAD.
func NewEngine(kp KeyProvider) (*Engine, error) {
	key, err := kp.CurrentKey()
	if err != nil {
		return nil, fmt.Errorf("obtain key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Engine{aead: aead}, nil
}

// Seal encrypts plaintext under the process key and returns the ciphertext
// (GCM tag appended) together with the nonce used. Every call draws a fresh
// nonce from crypto/rand; nonces are never derived from document ids or
// counters, so a (key, nonce) pair can never repeat across payloads.
func (e *Engine) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("draw nonce: %w", err)
	}
	ciphertext = e.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Unseal authenticates and decrypts a sealed payload. A failed tag check
// surfaces as ErrIntegrity so callers can distinguish tampering from a plain
// authorization denial.
func (e *Engine) Unseal(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrIntegrity, NonceSize)
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}
