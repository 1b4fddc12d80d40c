package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength        = 32
	pbkdf2Iterations = 100000
)

// ErrEmptyInput is returned when there is nothing to encrypt or decrypt.
var ErrEmptyInput = errors.New("empty input")

// TokenCipher seals provider tokens at rest with AES-256-GCM.
// The key is derived from a configured secret, so any replica sharing the secret can decrypt.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives the key from secret and salt.
func NewTokenCipher(secret, salt string) (*TokenCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret required")
	}
	if salt == "" {
		salt = "dvlab-api/gapi_token"
	}
	key := pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *TokenCipher) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrEmptyInput
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *TokenCipher) Decrypt(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrEmptyInput
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
