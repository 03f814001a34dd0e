// Package crypto provides at-rest encryption for queued sync records.
// Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// Sealer encrypts and decrypts opaque records.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Nop is a Sealer that returns its input unchanged.
type Nop struct{}

func (Nop) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (Nop) Open(sealed []byte) ([]byte, error)    { return sealed, nil }

// AESGCM seals records with AES-256-GCM. The random nonce is prepended to
// each sealed record.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds a sealer from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: gcm}, nil
}

// Seal encrypts and authenticates plaintext.
func (s *AESGCM) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a record produced by Seal.
func (s *AESGCM) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, data := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// ParseKey decodes a configured key. A 64-character hex string or a base64
// string decoding to 32 bytes is used as-is; any other non-empty passphrase
// is stretched with SHA-256.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidKey
	}
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	return DeriveKey(s), nil
}

// DeriveKey derives a 32-byte key from a passphrase.
func DeriveKey(passphrase string) []byte {
	hash := sha256.Sum256([]byte("afitness:" + passphrase))
	return hash[:]
}

// SealerFromConfig returns an AES-GCM sealer for a non-empty key and Nop
// otherwise.
func SealerFromConfig(key string) (Sealer, error) {
	if key == "" {
		return Nop{}, nil
	}
	raw, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return NewAESGCM(raw)
}
