// ABOUTME: Authenticated encryption for session cookies and config payloads
// ABOUTME: AES-256-GCM envelopes with static-key and Argon2id passphrase derivation

package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Cipher errors. Open failures never distinguish a wrong key from a
// corrupted envelope.
var (
	// ErrKeyConfig indicates missing or malformed key material. This is a
	// server configuration problem, not a bad client input.
	ErrKeyConfig = errors.New("cipher: key material missing or malformed")

	// ErrAuthFailure indicates an envelope that failed to decode or
	// authenticate. Callers should treat this as an unauthorized input.
	ErrAuthFailure = errors.New("cipher: envelope authentication failed")
)

const (
	keySize   = 32
	nonceSize = 16
	saltSize  = 16
)

// defaultSalt is the fixed salt for the app-level passphrase-derived cipher.
// Cookie envelopes produced with it carry no salt of their own; general
// envelopes use a random per-value salt instead (see SealSalted).
var defaultSalt = []byte("agentdeck.cookie.salt.v1")

// argon2id parameters for passphrase-derived keys (moderate profile).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Cipher seals and opens authenticated envelopes under a fixed 256-bit key.
type Cipher struct {
	aead gocipher.AEAD
}

// NewFromHex builds a Cipher from a hex-encoded 32-byte key. The value must
// be exactly 64 hex characters.
func NewFromHex(hexKey string) (*Cipher, error) {
	if len(hexKey) != keySize*2 {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrKeyConfig, keySize*2, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfig, err)
	}
	return NewFromKey(key)
}

// NewFromKey builds a Cipher from a raw 32-byte key.
func NewFromKey(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: expected %d-byte key, got %d", ErrKeyConfig, keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfig, err)
	}
	aead, err := gocipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfig, err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromPassphrase builds a Cipher by stretching a passphrase with Argon2id
// and the fixed application salt. Used when no strong static key is
// configured; envelopes produced this way are salt-free.
func NewFromPassphrase(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyConfig)
	}
	return NewFromKey(deriveKey(passphrase, defaultSalt))
}

// Seal encrypts plaintext and returns a base64url token of
// nonce || ciphertext || tag. The nonce is freshly random on every call.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decodes and authenticates an envelope produced by Seal. Any failure,
// including malformed base64 or a truncated envelope, returns ErrAuthFailure
// with no partial plaintext.
func (c *Cipher) Open(token string) ([]byte, error) {
	sealed, err := decodeEnvelope(token)
	if err != nil {
		return nil, ErrAuthFailure
	}
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, ErrAuthFailure
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// SealSalted encrypts plaintext under a key derived from the passphrase and
// a fresh random salt, returning base64url(salt || nonce || ciphertext || tag).
// This is the general-purpose envelope shape for values that outlive a single
// cipher instance.
func SealSalted(passphrase string, plaintext []byte) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("%w: empty passphrase", ErrKeyConfig)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	c, err := NewFromKey(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	inner, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}
	sealed, _ := base64.RawURLEncoding.DecodeString(inner)
	return base64.RawURLEncoding.EncodeToString(append(salt, sealed...)), nil
}

// OpenSalted reverses SealSalted. Failures collapse to ErrAuthFailure.
func OpenSalted(passphrase string, token string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyConfig)
	}
	sealed, err := decodeEnvelope(token)
	if err != nil || len(sealed) < saltSize {
		return nil, ErrAuthFailure
	}
	c, err := NewFromKey(deriveKey(passphrase, sealed[:saltSize]))
	if err != nil {
		return nil, err
	}
	return c.Open(base64.RawURLEncoding.EncodeToString(sealed[saltSize:]))
}

// decodeEnvelope accepts both padded and raw base64url.
func decodeEnvelope(token string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(token); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(token)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}
